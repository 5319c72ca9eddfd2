//go:build linux

// Package aggregator implements the sample aggregator (component C8): it
// owns the perf-buffer poll loop, runs periodic process discovery, and
// coordinates the flush signal with the folded emitter.
package aggregator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cilium/ebpf/perf"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/procfs"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/grafana-oss/pyperf/bininspect"
	"github.com/grafana-oss/pyperf/nativeunwind"
	"github.com/grafana-oss/pyperf/pidconfig"
	"github.com/grafana-oss/pyperf/pyperfmetrics"
	"github.com/grafana-oss/pyperf/walker"
)

// Sample is one aggregated event, ready for the folded emitter: the raw
// Python symbol-id stack plus its unwound native tail.
type Sample struct {
	Comm          string
	Pid, Tid      uint32
	ErrorCode     walker.ErrorCode
	StackStatus   walker.StackStatus
	KernelStackID int64
	// PyStack holds symbol ids deepest-first, as produced by the kernel
	// walker; negative entries are sentinels (spec.md §4.8).
	PyStack []int32
	Native  nativeunwind.Result
}

// Emitter turns one flushed batch, together with a symbol id snapshot,
// into output. folded.Writer is the production implementation.
type Emitter interface {
	Emit(samples []Sample, symbols map[uint32]string) error
}

// Options configures the aggregator's timing.
type Options struct {
	// UpdateInterval is the period between process-discovery sweeps.
	UpdateInterval time.Duration
	// Duration bounds the run; zero means run until ctx is cancelled.
	Duration time.Duration
}

// Aggregator ties the kernel walker, the per-PID configurator, the native
// unwinder and an emitter together.
type Aggregator struct {
	logger  log.Logger
	walker  *walker.Walker
	cfg     *pidconfig.Configurator
	unwind  *nativeunwind.Walker
	emit    Emitter
	metrics *pyperfmetrics.Metrics
	opts    Options

	mu      sync.Mutex
	samples []Sample
	tracked *xsync.MapOf[uint32, bool]
}

// New builds an Aggregator. cfg, unwind and emit must be non-nil.
func New(logger log.Logger, w *walker.Walker, cfg *pidconfig.Configurator, unwind *nativeunwind.Walker, emit Emitter, metrics *pyperfmetrics.Metrics, opts Options) *Aggregator {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = 10 * time.Second
	}
	return &Aggregator{
		logger:  logger,
		walker:  w,
		cfg:     cfg,
		unwind:  unwind,
		emit:    emit,
		metrics: metrics,
		opts:    opts,
		tracked: xsync.NewMapOf[uint32, bool](),
	}
}

// Run drives the poll loop, the discovery loop and (if opts.Duration is
// set) the run timer until ctx is cancelled or the duration elapses, then
// flushes one last time (spec.md §4.7). Stopping closes the perf reader,
// so records still queued in the ring at that point are not read and are
// not part of the final flush. staticPids, if
// non-empty, disables autodiscovery in favor of exactly those pids.
func (a *Aggregator) Run(ctx context.Context, dump *DumpController, staticPids []int) error {
	dump.Register(a.flush)

	var g run.Group

	pollCtx, cancelPoll := context.WithCancel(ctx)
	g.Add(func() error {
		return a.pollLoop(pollCtx)
	}, func(error) {
		cancelPoll()
		_ = a.walker.Reader().Close()
	})

	discCtx, cancelDisc := context.WithCancel(ctx)
	g.Add(func() error {
		return a.discoveryLoop(discCtx, staticPids)
	}, func(error) {
		cancelDisc()
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	g.Add(func() error {
		if a.opts.Duration <= 0 {
			<-runCtx.Done()
			return runCtx.Err()
		}
		select {
		case <-time.After(a.opts.Duration):
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		}
	}, func(error) {
		cancelRun()
	})

	err := g.Run()
	a.flush()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Aggregator) pollLoop(ctx context.Context) error {
	rd := a.walker.Reader()
	for {
		record, err := rd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			level.Error(a.logger).Log("msg", "reading perf event reader", "err", err)
			continue
		}
		if record.LostSamples != 0 {
			a.metrics.LostSamples.Add(float64(record.LostSamples))
			continue
		}

		var ev walker.PyperfEvent
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &ev); err != nil {
			level.Error(a.logger).Log("msg", "decoding perf event record", "err", err)
			continue
		}

		s := a.toSample(ev)
		a.mu.Lock()
		a.samples = append(a.samples, s)
		a.mu.Unlock()

		if s.ErrorCode != walker.ErrorNone {
			a.metrics.StacktraceError.WithLabelValues(errorClass(s.ErrorCode)).Inc()
		}
	}
}

// errorClass buckets a per-sample error code per spec.md §7's severity
// tiers, so the transient noise of a thread starting up doesn't drown out
// signals that offsets have drifted or the host is misconfigured.
func errorClass(e walker.ErrorCode) string {
	switch {
	case e.HostMisconfig():
		return "host_misconfig"
	case e.ConfigDrift():
		return "config_drift"
	case e.Transient():
		return "transient"
	default:
		return "unknown"
	}
}

func (a *Aggregator) toSample(ev walker.PyperfEvent) Sample {
	s := Sample{
		Comm:          nullTerminated(ev.Comm[:]),
		Pid:           ev.Pid,
		Tid:           ev.Tid,
		ErrorCode:     walker.ErrorCode(ev.ErrorCode),
		StackStatus:   walker.StackStatus(ev.StackStatus),
		KernelStackID: int64(ev.KernelStackId),
	}
	n := int(ev.StackLen)
	if n > len(ev.Stack) {
		n = len(ev.Stack)
	}
	s.PyStack = make([]int32, n)
	copy(s.PyStack, ev.Stack[:n])

	rawLen := int(ev.RawStackLen)
	if rawLen > len(ev.RawStack) {
		rawLen = len(ev.RawStack)
	}
	res, err := a.unwind.Unwind(nativeunwind.Sample{
		Pid:   int(ev.Pid),
		IP:    ev.UserIp,
		SP:    ev.UserSp,
		Stack: ev.RawStack[:rawLen],
	})
	if err != nil {
		target := strconv.FormatUint(uint64(ev.Pid), 10)
		a.metrics.NativeUnwindError.WithLabelValues(target).Inc()
	}
	s.Native = res
	return s
}

func (a *Aggregator) discoveryLoop(ctx context.Context, staticPids []int) error {
	if len(staticPids) > 0 {
		for _, pid := range staticPids {
			a.attach(uint32(pid))
		}
		<-ctx.Done()
		return ctx.Err()
	}

	a.discoverOnce()
	ticker := time.NewTicker(a.opts.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.discoverOnce()
		}
	}
}

func (a *Aggregator) discoverOnce() {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		level.Error(a.logger).Log("msg", "opening procfs", "err", err)
		return
	}
	procs, err := fs.AllProcs()
	if err != nil {
		level.Error(a.logger).Log("msg", "listing processes", "err", err)
		return
	}

	seen := make(map[uint32]bool, len(procs))
	for _, p := range procs {
		pid := uint32(p.PID)
		seen[pid] = true
		if _, known := a.tracked.Load(pid); !known {
			a.attach(pid)
		}
	}

	stale := make([]uint32, 0)
	a.tracked.Range(func(pid uint32, _ bool) bool {
		if !seen[pid] {
			stale = append(stale, pid)
		}
		return true
	})
	for _, pid := range stale {
		a.detach(pid)
	}
}

func (a *Aggregator) attach(pid uint32) {
	rec, err := a.cfg.Configure(int(pid))
	if err != nil {
		if !errors.Is(err, pidconfig.ErrSkip) && !errors.Is(err, bininspect.ErrNotPython) {
			a.metrics.PidConfigError.WithLabelValues(strconv.FormatUint(uint64(pid), 10)).Inc()
			level.Debug(a.logger).Log("msg", "configuring pid", "pid", pid, "err", err)
		}
		return
	}
	if err := a.walker.InstallPidConfig(pid, rec); err != nil {
		a.metrics.PidConfigError.WithLabelValues(strconv.FormatUint(uint64(pid), 10)).Inc()
		return
	}
	a.tracked.Store(pid, true)
	a.metrics.ProcessInitSuccess.WithLabelValues(strconv.FormatUint(uint64(pid), 10)).Inc()
}

func (a *Aggregator) detach(pid uint32) {
	_ = a.walker.RemovePidConfig(pid)
	a.tracked.Delete(pid)
}

// flush snapshots and clears the in-memory sample batch, harvests the
// current symbol table and hands both to the emitter. Safe to call from
// the dump signal handler and from Run's own shutdown path.
func (a *Aggregator) flush() {
	a.mu.Lock()
	batch := a.samples
	a.samples = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	symbols, err := snapshotSymbols(a.walker.SymbolsMap())
	if err != nil {
		level.Error(a.logger).Log("msg", "snapshotting symbol table", "err", err)
	}
	for _, s := range batch {
		target := strconv.FormatUint(uint64(s.Pid), 10)
		for _, id := range s.PyStack {
			if id < 0 {
				continue
			}
			a.metrics.SymbolLookup.WithLabelValues(target).Inc()
			if _, ok := symbols[uint32(id)]; !ok {
				a.metrics.UnknownSymbols.WithLabelValues(target).Inc()
			}
		}
	}

	if err := a.emit.Emit(batch, symbols); err != nil {
		level.Error(a.logger).Log("msg", "emitting samples", "err", err)
	}
}

func nullTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
