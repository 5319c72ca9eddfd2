package aggregator

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// DumpController decouples the flush signal from any package-level state.
// A caller registers one or more handlers once at startup; Watch installs
// the actual os/signal plumbing. This replaces the free global profiler
// pointer the signal handler would otherwise close over (spec.md §9).
type DumpController struct {
	mu       sync.Mutex
	handlers []func()
}

// NewDumpController returns an empty controller with no handlers.
func NewDumpController() *DumpController {
	return &DumpController{}
}

// Register installs fn to be called every time the controller fires.
func (d *DumpController) Register(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
}

func (d *DumpController) fire() {
	d.mu.Lock()
	handlers := make([]func(), len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// Watch starts a goroutine that calls fire whenever one of sig arrives,
// until ctx is done.
func (d *DumpController) Watch(ctx context.Context, sig ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				d.fire()
			}
		}
	}()
}
