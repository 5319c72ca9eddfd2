// Package bininspect implements the binary inspector (component C3): it
// walks a target process's mapped modules to find the interpreter binary
// or library, its libc flavor, and (via ELF) its load bias and the vaddrs
// of the global anchor symbols the kernel walker needs.
package bininspect

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/prometheus/procfs"
)

var rePython = regexp.MustCompile(`.*/((?:lib)?python)(\d+)\.(\d+)`)

// ErrNotPython indicates the process has no Python-like module mapped; the
// caller should silently skip the pid (spec.md §4.3 failure modes).
var ErrNotPython = errors.New("bininspect: no python module found")

// PthreadsFlavor identifies the pthreads implementation backing the
// target's threads, needed to pick the TLS-self offset in the walker.
type PthreadsFlavor int

const (
	Glibc PthreadsFlavor = iota
	Musl
)

// Module describes the chosen interpreter module within a process's
// address space.
type Module struct {
	// Path is the /proc/<pid>/root-relative path to the mapped file.
	Path string
	// StartAddr is the runtime start address of the file's first
	// executable mapping, i.e. of its first executable LOAD segment.
	StartAddr uint64
	MajorMinor string // e.g. "3.8"
	Flavor     PthreadsFlavor
}

// FindModule walks the maps of pid, classifying each mapped file's
// basename. A libpython* mapping wins over a python* mapping (a dynamic
// build carries its symbols in the shared library; a static build carries
// them in the executable); scanning continues past a python* hit in case a
// later libpython* mapping exists. Returns ErrNotPython if no candidate is
// found.
func FindModule(pid int) (Module, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return Module{}, err
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return Module{}, err
	}

	var best *procfs.ProcMap
	var bestMM string
	var bestIsLib bool
	flavor := Glibc
	for _, m := range maps {
		if m.Pathname == "" {
			continue
		}
		if isMuslPath(m.Pathname) {
			flavor = Musl
		}
		majorMinor, isLib, ok := classifyPythonPath(m.Pathname)
		if !ok || m.Perms == nil || !m.Perms.Execute {
			continue
		}
		if best == nil || (isLib && !bestIsLib) {
			best = m
			bestMM = majorMinor
			bestIsLib = isLib
		}
	}
	if best == nil {
		return Module{}, ErrNotPython
	}
	return Module{
		Path:       best.Pathname,
		StartAddr:  uint64(best.StartAddr),
		MajorMinor: bestMM,
		Flavor:     flavor,
	}, nil
}

// classifyPythonPath extracts the "major.minor" version substring from a
// mapped file's path and reports whether it is a libpython (vs. bare
// python executable) mapping. ok is false for paths that are not
// Python-like at all.
func classifyPythonPath(pathname string) (majorMinor string, isLib bool, ok bool) {
	match := rePython.FindStringSubmatch(pathname)
	if match == nil {
		return "", false, false
	}
	return fmt.Sprintf("%s.%s", match[2], match[3]), match[1] == "libpython", true
}

func isMuslPath(pathname string) bool {
	return strings.Contains(pathname, "musl")
}

// Symbols holds what the kernel walker needs to root its traversal:
// exactly one of PyRuntimeVaddr / ThreadStateCurrentVaddr is nonzero,
// mirroring spec.md's PythonBinaryInfo invariant.
type Symbols struct {
	PyRuntimeVaddr          uint64
	ThreadStateCurrentVaddr uint64
	ExecVaddr               uint64
}

// ScanELF opens the file at fsPath (typically /proc/<pid>/root/<module
// path>) and captures the first occurrence of _PyRuntime and
// _PyThreadState_Current among OBJECT/FUNC symbols, plus the vaddr of the
// first executable LOAD segment. It stops scanning symbols once both
// anchors are found; a binary carrying only one of them is scanned to the
// end of its symbol tables.
func ScanELF(fsPath string) (Symbols, error) {
	osFile, err := os.Open(fsPath)
	if err != nil {
		return Symbols{}, err
	}
	defer osFile.Close()

	ra := bufra.NewBufReaderAt(osFile, 128*1024)
	f, err := elf.NewFile(ra)
	if err != nil {
		return Symbols{}, err
	}
	defer f.Close()

	var s Symbols
	syms, symErr := f.Symbols()
	dynsyms, dynErr := f.DynamicSymbols()
	if symErr != nil && dynErr != nil {
		return Symbols{}, fmt.Errorf("bininspect: no symbol table: %s / %s", symErr, dynErr)
	}
	all := append(append([]elf.Symbol{}, syms...), dynsyms...)
	for _, sym := range all {
		typ := elf.ST_TYPE(sym.Info)
		if typ != elf.STT_OBJECT && typ != elf.STT_FUNC {
			continue
		}
		switch sym.Name {
		case "_PyRuntime":
			if s.PyRuntimeVaddr == 0 {
				s.PyRuntimeVaddr = sym.Value
			}
		case "_PyThreadState_Current":
			if s.ThreadStateCurrentVaddr == 0 {
				s.ThreadStateCurrentVaddr = sym.Value
			}
		}
		if s.PyRuntimeVaddr != 0 && s.ThreadStateCurrentVaddr != 0 {
			break
		}
	}

	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags&elf.PF_X != 0 {
			s.ExecVaddr = prog.Vaddr
			break
		}
	}
	return s, nil
}

// LoadBias computes the runtime-vs-file address offset for a module:
// mapped executable start minus the file's first executable segment
// vaddr.
func LoadBias(mappedExecStart, execVaddr uint64) uint64 {
	return mappedExecStart - execVaddr
}
