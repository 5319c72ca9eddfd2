//go:build linux

// Package walker drives the kernel-resident interpreter-structure walker
// (components C5+C6): it loads the compiled BPF object, wires the
// PROG_ARRAY tail-call chain, installs the per-PID configuration, and
// exposes the symbol dedup map and event ring to the aggregator.
package walker

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sys/unix"

	"github.com/grafana-oss/pyperf/offsets"
	"github.com/grafana-oss/pyperf/pidconfig"
)

// progIndex mirrors the PROG_ENTRY/PROG_FIND_THREAD/PROG_WALK_FRAMES
// constants in bpf/pyperf.bpf.c.
const (
	progEntry       = 0
	progFindThread  = 1
	progWalkFrames  = 2
)

// Options configures the kernel walker at load time.
type Options struct {
	SymbolsMapSize int
	SampleRate     int // events per sample (mutually exclusive with SampleFreq)
	SampleFreq     int // samples per second
	NumCPU         int
}

// Walker owns the loaded BPF collection and the perf event attachments.
type Walker struct {
	logger  log.Logger
	objs    PyperfObjects
	links   []link.Link
	reader  *perf.Reader
}

// Load reads the bpf2go-built object (see LoadPyperf) and loads the
// walker's BPF programs, rewriting the symbol map size and NUM_CPUS constant per
// options, then chains the three stages into the PROG_ARRAY.
func Load(logger log.Logger, opts Options) (*Walker, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("walker: remove memlock rlimit: %w", err)
	}

	spec, err := LoadPyperf()
	if err != nil {
		return nil, fmt.Errorf("walker: load spec: %w", err)
	}

	if opts.SymbolsMapSize > 0 {
		if m, ok := spec.Maps["symbols"]; ok {
			m.MaxEntries = uint32(opts.SymbolsMapSize)
		}
	}
	if err := spec.RewriteConstants(map[string]interface{}{
		"NUM_CPUS": uint32(opts.NumCPU),
	}); err != nil {
		return nil, fmt.Errorf("walker: rewrite constants: %w", err)
	}

	var objs PyperfObjects
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		var verr *ebpf.VerifierError
		if verifierErrorAs(err, &verr) {
			level.Error(logger).Log("msg", "verifier rejected walker program", "err", fmt.Sprintf("%+v", verr))
		}
		return nil, fmt.Errorf("walker: load and assign: %w", err)
	}

	if err := objs.ProgArray.Put(uint32(progEntry), objs.OnEvent); err != nil {
		objs.Close()
		return nil, fmt.Errorf("walker: install prog A: %w", err)
	}
	if err := objs.ProgArray.Put(uint32(progFindThread), objs.GetThreadState); err != nil {
		objs.Close()
		return nil, fmt.Errorf("walker: install prog B: %w", err)
	}
	if err := objs.ProgArray.Put(uint32(progWalkFrames), objs.ReadPythonStack); err != nil {
		objs.Close()
		return nil, fmt.Errorf("walker: install prog C: %w", err)
	}

	w := &Walker{logger: logger, objs: objs}
	return w, nil
}

// Attach opens the CPU-clock software perf event on every online CPU and
// attaches program A (the entry point) to each.
func (w *Walker) Attach(opts Options) error {
	cpus, err := onlineCPUs()
	if err != nil {
		return fmt.Errorf("walker: online cpus: %w", err)
	}
	for _, cpu := range cpus {
		attr := unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_SOFTWARE,
			Config: unix.PERF_COUNT_SW_CPU_CLOCK,
		}
		if opts.SampleFreq > 0 {
			attr.Sample = uint64(opts.SampleFreq)
			attr.Bits |= unix.PerfBitFreq
		} else {
			rate := opts.SampleRate
			if rate == 0 {
				rate = 1000000
			}
			attr.Sample = uint64(rate)
		}
		fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, 0)
		if err != nil {
			w.closeLinks()
			return fmt.Errorf("walker: perf_event_open cpu %d: %w", cpu, err)
		}
		pl, err := link.AttachRawLink(link.RawLinkOptions{
			Target:  fd,
			Program: w.objs.OnEvent,
			Attach:  ebpf.AttachPerfEvent,
		})
		if err != nil {
			unix.Close(fd)
			w.closeLinks()
			return fmt.Errorf("walker: attach cpu %d: %w", cpu, err)
		}
		w.links = append(w.links, pl)
	}

	rd, err := perf.NewReader(w.objs.Events, 4096*pageMultiplier())
	if err != nil {
		return fmt.Errorf("walker: perf reader: %w", err)
	}
	w.reader = rd
	return nil
}

// Reader exposes the per-CPU ring buffer reader C8 polls.
func (w *Walker) Reader() *perf.Reader { return w.reader }

// InstallPidConfig writes a PerPidRecord into the pid_data map, matching
// what the kernel walker's PROG_ENTRY looks up by pid.
func (w *Walker) InstallPidConfig(pid uint32, rec pidconfig.PerPidRecord) error {
	v := PyperfPerPidData{
		PthreadsImpl:            uint8(rec.PthreadsFlavor),
		ConstantBufferVaddr:     rec.Globals.ConstantBufferVaddr,
		ThreadStateCurrentVaddr: rec.Globals.ThreadStateCurrentVaddr,
		PyRuntimeVaddr:          rec.Globals.PyRuntimeVaddr,
		CachedInterpVaddr:       rec.CachedInterpVaddr,
		Offsets:                toBPFOffsets(rec.Offsets),
	}
	return w.objs.PidData.Update(pid, v, ebpf.UpdateAny)
}

func toBPFOffsets(o offsets.StructOffsets) PyperfStructOffsets {
	return PyperfStructOffsets{
		PyObjectObType:              o.PyObject.ObType,
		StringData:                  o.String.Data,
		StringSize:                  o.String.Size,
		PyTypeObjectTpName:          o.PyTypeObject.TpName,
		PyThreadStateNext:           o.PyThreadState.Next,
		PyThreadStateInterp:         o.PyThreadState.Interp,
		PyThreadStateFrame:          o.PyThreadState.Frame,
		PyThreadStateThread:         o.PyThreadState.Thread,
		PyInterpreterStateTstateHead: o.PyInterpreterState.TstateHead,
		PyRuntimeStateInterpMain:    o.PyRuntimeState.InterpMain,
		PyFrameObjectFBack:          o.PyFrameObject.FBack,
		PyFrameObjectFCode:          o.PyFrameObject.FCode,
		PyFrameObjectFLineno:        o.PyFrameObject.FLineno,
		PyFrameObjectFLocalsplus:    o.PyFrameObject.FLocalsplus,
		PyCodeObjectCoFilename:      o.PyCodeObject.CoFilename,
		PyCodeObjectCoName:          o.PyCodeObject.CoName,
		PyCodeObjectCoVarnames:      o.PyCodeObject.CoVarnames,
		PyCodeObjectCoFirstlineno:   o.PyCodeObject.CoFirstlineno,
		PyTupleObjectObItem:         o.PyTupleObject.ObItem,
	}
}

// RemovePidConfig deletes a pid's record once the process exits.
func (w *Walker) RemovePidConfig(pid uint32) error {
	return w.objs.PidData.Delete(pid)
}

// SymbolsMap exposes the raw kernel-side dedup map for readback by the
// aggregator's symbol snapshot (C6).
func (w *Walker) SymbolsMap() *ebpf.Map { return w.objs.Symbols }

// KernelStacks exposes the kernel stack-trace map for kernel-frame
// resolution (C9's `_[k]` annotation).
func (w *Walker) KernelStacks() *ebpf.Map { return w.objs.KernelStacks }

// closeLinks detaches every CPU's perf event link, used both by Close and
// to unwind a partially-attached loop when a later CPU fails.
func (w *Walker) closeLinks() error {
	var firstErr error
	for _, l := range w.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.links = nil
	return firstErr
}

// Close releases the BPF collection, perf event links and ring reader.
func (w *Walker) Close() error {
	var firstErr error //nolint:prealloc
	if w.reader != nil {
		if err := w.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := w.closeLinks(); err != nil && firstErr == nil {
		firstErr = err
	}
	w.objs.Close()
	return firstErr
}

