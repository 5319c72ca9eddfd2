// Package pyperfmetrics defines the prometheus counters shared across the
// aggregator and folded packages.
package pyperfmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter the profiler exposes. All are labeled by
// target so a single process can be told apart from another when several
// pids are attached at once.
type Metrics struct {
	PidConfigError     *prometheus.CounterVec
	ProcessInitSuccess *prometheus.CounterVec
	SymbolLookup       *prometheus.CounterVec
	UnknownSymbols     *prometheus.CounterVec
	NativeUnwindError  *prometheus.CounterVec

	LostSamples     prometheus.Counter
	StacktraceError *prometheus.CounterVec
	Load            prometheus.Counter
	LoadError       prometheus.Counter
}

// New builds a Metrics set and registers it against reg. reg may be nil,
// in which case the counters are still usable but not exported.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PidConfigError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_pid_config_errors_total",
			Help: "Total number of errors while inspecting or configuring a target process.",
		}, []string{"target"}),

		ProcessInitSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_process_init_success_total",
			Help: "Total number of processes successfully attached for profiling.",
		}, []string{"target"}),

		SymbolLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_symbol_lookup_total",
			Help: "Total number of symbol id lookups performed while rendering a stack.",
		}, []string{"target"}),

		UnknownSymbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_unknown_symbols_total",
			Help: "Total number of symbol ids that had no entry in the kernel symbol table.",
		}, []string{"target"}),

		NativeUnwindError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_native_unwind_errors_total",
			Help: "Total number of samples for which the native unwinder failed.",
		}, []string{"target"}),

		LostSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyperf_lost_samples_total",
			Help: "Total number of samples lost because the perf ring buffer overflowed.",
		}),

		StacktraceError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pyperf_stacktrace_errors_total",
			Help: "Total number of samples reported with a non-zero error code by the kernel walker, classified by whether the condition is transient, indicates offset drift, or a host misconfiguration.",
		}, []string{"class"}),

		Load: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyperf_load_total",
			Help: "Total number of times the BPF programs were loaded.",
		}),

		LoadError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pyperf_load_errors_total",
			Help: "Total number of BPF load failures, including verifier rejections.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PidConfigError,
			m.ProcessInitSuccess,
			m.SymbolLookup,
			m.UnknownSymbols,
			m.NativeUnwindError,
			m.LostSamples,
			m.StacktraceError,
			m.Load,
			m.LoadError,
		)
	}

	return m
}
