//go:build linux

package folded

import (
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf"

	"github.com/grafana-oss/pyperf/symtab"
)

// perfMaxStackDepth mirrors the kernel's PERF_MAX_STACK_DEPTH, the value
// count for a BPF_MAP_TYPE_STACK_TRACE map entry.
const perfMaxStackDepth = 127

// KallsymsResolver resolves kernel stack ids against the kernel_stacks
// map and /proc/kallsyms, refreshed lazily on first use.
type KallsymsResolver struct {
	stacks *ebpf.Map

	once     sync.Once
	loadErr  error
	kallsyms *symtab.SymbolTab
}

func NewKallsymsResolver(stacks *ebpf.Map) *KallsymsResolver {
	return &KallsymsResolver{stacks: stacks}
}

func (r *KallsymsResolver) load() {
	data, err := os.ReadFile("/proc/kallsyms")
	if err != nil {
		r.loadErr = err
		return
	}
	r.kallsyms, r.loadErr = symtab.NewKallsyms(data)
}

// Resolve returns the frame names for kernelStackID, innermost first, the
// same order the kernel stack-trace map stores them in.
func (r *KallsymsResolver) Resolve(kernelStackID int64) ([]string, error) {
	r.once.Do(r.load)
	if r.loadErr != nil {
		return nil, r.loadErr
	}

	var addrs [perfMaxStackDepth]uint64
	if err := r.stacks.Lookup(uint32(kernelStackID), &addrs); err != nil {
		return nil, fmt.Errorf("folded: kernel stack lookup %d: %w", kernelStackID, err)
	}

	frames := make([]string, 0, perfMaxStackDepth)
	for _, addr := range addrs {
		if addr == 0 {
			break
		}
		sym := r.kallsyms.Resolve(addr)
		if sym.Name == "" {
			frames = append(frames, fmt.Sprintf("[unknown] (%#x)", addr))
			continue
		}
		frames = append(frames, sym.Name)
	}
	return frames, nil
}
