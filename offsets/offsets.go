package offsets

import "sort"

// StructOffsets is a fixed record of signed 64-bit offsets into the
// target's C structs. A value of -1 means "not applicable for this
// version" and must never be dereferenced.
type StructOffsets struct {
	PyObject struct {
		ObType int64
	}
	// String offsets are into whichever string representation the
	// version uses for bytes/ASCII/compact unicode. Size may be -1
	// where the version does not expose a usable length field.
	String struct {
		Data int64
		Size int64
	}
	PyTypeObject struct {
		TpName int64
	}
	PyThreadState struct {
		Next   int64
		Interp int64
		Frame  int64
		Thread int64
	}
	PyInterpreterState struct {
		TstateHead int64
	}
	PyRuntimeState struct {
		// InterpMain is set only for versions where _PyRuntime is the
		// anchor (3.7+); -1 otherwise. See Open Question (b): 3.6 must
		// never dereference this field even though some builds carry a
		// nonzero-looking value here.
		InterpMain int64
	}
	PyFrameObject struct {
		FBack       int64
		FCode       int64
		FLineno     int64
		FLocalsplus int64
	}
	PyCodeObject struct {
		CoFilename     int64
		CoName         int64
		CoVarnames     int64
		CoFirstlineno  int64
	}
	PyTupleObject struct {
		ObItem int64
	}
}

type entry struct {
	version Version
	offsets StructOffsets
}

// Registry maps Python versions to StructOffsets, sorted ascending by
// version. Build with NewRegistry; safe for concurrent Lookup calls once
// built (immutable for the process lifetime, per spec.md's data-model
// lifecycle for the version registry).
type Registry struct {
	v27     StructOffsets
	entries []entry
}

// NewRegistry builds the standard registry: the 2.7 entry plus the
// ascending list of 3.x entries. Numeric offsets are transcribed from the
// original PyOffsets.cc tables; see DESIGN.md for provenance.
func NewRegistry() *Registry {
	r := &Registry{v27: py27()}
	r.entries = []entry{
		{Version{3, 6, 0}, py36()},
		{Version{3, 7, 0}, py37()},
		{Version{3, 8, 0}, py38()},
		{Version{3, 10, 0}, py310()},
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].version.Less(r.entries[j].version)
	})
	return r
}

// Lookup returns the StructOffsets for the greatest registered version
// <= v. Version 2.x always returns the 2.7 entry regardless of minor/patch.
// If v is smaller than the smallest registered 3.x version, ok is false;
// callers must guard upstream (spec.md §4.1: "behavior is undefined").
func (r *Registry) Lookup(v Version) (StructOffsets, bool) {
	if v.Major == 2 {
		return r.v27, true
	}
	best := -1
	for i, e := range r.entries {
		if e.version.LessEq(v) {
			best = i
		} else {
			break
		}
	}
	if best == -1 {
		return StructOffsets{}, false
	}
	return r.entries[best].offsets, true
}

func py27() StructOffsets {
	var o StructOffsets
	o.PyObject.ObType = 8
	o.String.Data = 36
	o.String.Size = 16
	o.PyTypeObject.TpName = 24
	o.PyThreadState.Next = 0
	o.PyThreadState.Interp = 8
	o.PyThreadState.Frame = 16
	o.PyThreadState.Thread = 144
	o.PyInterpreterState.TstateHead = 8
	o.PyRuntimeState.InterpMain = -1
	o.PyFrameObject.FBack = 24
	o.PyFrameObject.FCode = 32
	o.PyFrameObject.FLineno = 124
	o.PyFrameObject.FLocalsplus = 376
	o.PyCodeObject.CoFilename = 80
	o.PyCodeObject.CoName = 88
	o.PyCodeObject.CoVarnames = 56
	o.PyCodeObject.CoFirstlineno = 96
	o.PyTupleObject.ObItem = 24
	return o
}

func py36() StructOffsets {
	var o StructOffsets
	o.PyObject.ObType = 8
	o.String.Data = 48
	o.String.Size = 16
	o.PyTypeObject.TpName = 24
	o.PyThreadState.Next = 8
	o.PyThreadState.Interp = 16
	o.PyThreadState.Frame = 24
	o.PyThreadState.Thread = 152
	o.PyInterpreterState.TstateHead = 8
	// 3.6 has no usable _PyRuntime anchor; InterpMain must never be
	// dereferenced on this version even though it is not -1 upstream.
	// Callers must require _PyThreadStateCurrent on 3.6 (Open Question b).
	o.PyRuntimeState.InterpMain = -1
	o.PyFrameObject.FBack = 24
	o.PyFrameObject.FCode = 32
	o.PyFrameObject.FLineno = 124
	o.PyFrameObject.FLocalsplus = 376
	o.PyCodeObject.CoFilename = 96
	o.PyCodeObject.CoName = 104
	o.PyCodeObject.CoVarnames = 64
	o.PyCodeObject.CoFirstlineno = 36
	o.PyTupleObject.ObItem = 24
	return o
}

func py37() StructOffsets {
	var o StructOffsets
	o.PyObject.ObType = 8
	o.String.Data = 48
	o.String.Size = 16
	o.PyTypeObject.TpName = 24
	o.PyThreadState.Next = 8
	o.PyThreadState.Interp = 16
	o.PyThreadState.Frame = 24
	o.PyThreadState.Thread = 176
	o.PyInterpreterState.TstateHead = 8
	o.PyRuntimeState.InterpMain = 32
	o.PyFrameObject.FBack = 24
	o.PyFrameObject.FCode = 32
	o.PyFrameObject.FLineno = 108
	o.PyFrameObject.FLocalsplus = 360
	o.PyCodeObject.CoFilename = 96
	o.PyCodeObject.CoName = 104
	o.PyCodeObject.CoVarnames = 64
	o.PyCodeObject.CoFirstlineno = 36
	o.PyTupleObject.ObItem = 24
	return o
}

func py38() StructOffsets {
	var o StructOffsets
	o.PyObject.ObType = 8
	o.String.Data = 48
	o.String.Size = 16
	o.PyTypeObject.TpName = 24
	o.PyThreadState.Next = 8
	o.PyThreadState.Interp = 16
	o.PyThreadState.Frame = 24
	o.PyThreadState.Thread = 176
	o.PyInterpreterState.TstateHead = 8
	o.PyRuntimeState.InterpMain = 40
	o.PyFrameObject.FBack = 24
	o.PyFrameObject.FCode = 32
	o.PyFrameObject.FLineno = 108
	o.PyFrameObject.FLocalsplus = 360
	o.PyCodeObject.CoFilename = 104
	o.PyCodeObject.CoName = 112
	o.PyCodeObject.CoVarnames = 72
	o.PyCodeObject.CoFirstlineno = 40
	o.PyTupleObject.ObItem = 24
	return o
}

// py310 covers 3.10 and later. 3.9 is byte-identical to 3.8 and thus not
// listed separately: Lookup resolves 3.9.x to the 3.8 entry.
func py310() StructOffsets {
	var o StructOffsets
	o.PyObject.ObType = 8
	o.String.Data = 48
	o.String.Size = -1
	o.PyTypeObject.TpName = 24
	o.PyThreadState.Next = 8
	o.PyThreadState.Interp = 16
	o.PyThreadState.Frame = 24
	o.PyThreadState.Thread = 176
	o.PyInterpreterState.TstateHead = 8
	// Open Question (a): the source comment calls this N/A but the value
	// is not -1. Per spec.md §9, -1 is the sole "unused" marker, so
	// InterpMain stays active for 3.10.
	o.PyRuntimeState.InterpMain = 40
	o.PyFrameObject.FBack = 24
	o.PyFrameObject.FCode = 32
	o.PyFrameObject.FLineno = 100
	o.PyFrameObject.FLocalsplus = 352
	o.PyCodeObject.CoFilename = 104
	o.PyCodeObject.CoName = 112
	o.PyCodeObject.CoVarnames = 72
	o.PyCodeObject.CoFirstlineno = 40
	o.PyTupleObject.ObItem = 24
	return o
}
