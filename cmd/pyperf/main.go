//go:build linux

// Command pyperf samples running Python processes and writes merged
// Python + native + kernel folded stacks.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana-oss/pyperf/aggregator"
	"github.com/grafana-oss/pyperf/folded"
	"github.com/grafana-oss/pyperf/nativeunwind"
	"github.com/grafana-oss/pyperf/pidconfig"
	"github.com/grafana-oss/pyperf/pyperfmetrics"
	"github.com/grafana-oss/pyperf/walker"
)

const (
	exitArgError    = 1
	exitLoadError   = 2
	exitAttachError = 3
	exitConfigError = 4
)

var cfg struct {
	pids           []int
	sampleRate     int
	frequency      int
	duration       int
	updateInterval int
	symbolsMapSize int
	verbose        int
	output         string
	demangle       string
}

func main() {
	app := kingpin.New(filepath.Base(os.Args[0]), "Merged Python/native/kernel stack sampling profiler.")
	app.HelpFlag.Short('h')

	app.Flag("pid", "Target pid (repeatable; empty = autodiscover).").Short('p').IntsVar(&cfg.pids)
	app.Flag("sample-rate", "1 sample per N events.").Short('c').Default("1000000").IntVar(&cfg.sampleRate)
	app.Flag("frequency", "Samples per second (mutually exclusive with --sample-rate).").Short('F').IntVar(&cfg.frequency)
	app.Flag("duration", "Seconds to run; 0 = forever.").Short('d').Default("0").IntVar(&cfg.duration)
	app.Flag("update-interval", "Process-discovery period, in seconds.").Default("10").IntVar(&cfg.updateInterval)
	app.Flag("symbols-map-size", "Capacity of the symbol dedup map.").Default("16384").IntVar(&cfg.symbolsMapSize)
	app.Flag("verbose", "Log verbosity level.").Short('v').Default("0").IntVar(&cfg.verbose)
	app.Flag("output", "Output path; stdout if absent.").Short('o').StringVar(&cfg.output)
	app.Flag("demangle", "C++ demangle style for native frames: none, simplified, templates, full.").Default("simplified").StringVar(&cfg.demangle)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newLogger(cfg.verbose)
	os.Exit(run(logger))
}

func newLogger(verbosity int) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	allow := level.AllowInfo()
	if verbosity > 0 {
		allow = level.AllowDebug()
	}
	return level.NewFilter(logger, allow)
}

func run(logger log.Logger) int {
	if cfg.frequency != 0 && cfg.sampleRate != 1000000 {
		_ = level.Error(logger).Log("msg", "--sample-rate and --frequency are mutually exclusive")
		return exitArgError
	}

	reg := prometheus.NewRegistry()
	metrics := pyperfmetrics.New(reg)
	metrics.Load.Inc()

	w, err := walker.Load(logger, walker.Options{
		SymbolsMapSize: cfg.symbolsMapSize,
		SampleRate:     cfg.sampleRate,
		SampleFreq:     cfg.frequency,
		NumCPU:         runtime.NumCPU(),
	})
	if err != nil {
		metrics.LoadError.Inc()
		_ = level.Error(logger).Log("msg", "loading walker programs", "err", err)
		return exitLoadError
	}
	defer w.Close()

	if err := w.Attach(walker.Options{SampleRate: cfg.sampleRate, SampleFreq: cfg.frequency}); err != nil {
		_ = level.Error(logger).Log("msg", "attaching perf events", "err", err)
		return exitAttachError
	}

	cfgurator, err := pidconfig.NewConfigurator(logger, 0)
	if err != nil {
		_ = level.Error(logger).Log("msg", "building configurator", "err", err)
		return exitConfigError
	}

	resolver := nativeunwind.NewProcResolver(cfg.demangle)
	unwind := nativeunwind.NewWalker(resolver)

	kernel := folded.NewKallsymsResolver(w.KernelStacks())
	emitter := folded.NewWriter(cfg.output, kernel)

	opts := aggregator.Options{
		UpdateInterval: time.Duration(cfg.updateInterval) * time.Second,
		Duration:       time.Duration(cfg.duration) * time.Second,
	}
	agg := aggregator.New(logger, w, cfgurator, unwind, emitter, metrics, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dump := aggregator.NewDumpController()
	dump.Watch(ctx, syscall.SIGUSR2)

	if err := agg.Run(ctx, dump, cfg.pids); err != nil {
		_ = level.Error(logger).Log("msg", "profiling run failed", "err", err)
		return exitArgError
	}
	return 0
}
