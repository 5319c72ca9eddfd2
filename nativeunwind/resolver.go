//go:build linux

package nativeunwind

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/ianlancetaylor/demangle"

	"github.com/grafana-oss/pyperf/bininspect"
	pyperfdemangle "github.com/grafana-oss/pyperf/cpp/demangle"
)

// moduleSyms is a sorted-by-address symbol table for one mapped file,
// resolved by binary search the same way symtab.SymbolTab does for
// kernel symbols. execVaddr is the link-time vaddr of the module's first
// executable PT_LOAD segment, needed to turn a mapped runtime address
// back into the file's own symbol-table address space (bininspect.LoadBias).
type moduleSyms struct {
	addrs     []uint64
	names     []string
	execVaddr uint64
}

func (m *moduleSyms) resolve(addr uint64) (string, bool) {
	i := sort.Search(len(m.addrs), func(i int) bool { return m.addrs[i] > addr }) - 1
	if i < 0 {
		return "", false
	}
	return m.names[i], true
}

func loadModuleSyms(path string) (*moduleSyms, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ra := bufra.NewBufReaderAt(f, 128*1024)
	ef, err := elf.NewFile(ra)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	syms, symErr := ef.Symbols()
	dynsyms, dynErr := ef.DynamicSymbols()
	if symErr != nil && dynErr != nil {
		return nil, fmt.Errorf("nativeunwind: no symbol table: %s / %s", symErr, dynErr)
	}

	m := &moduleSyms{}
	add := func(all []elf.Symbol) {
		for _, s := range all {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
				continue
			}
			m.addrs = append(m.addrs, s.Value)
			m.names = append(m.names, s.Name)
		}
	}
	add(syms)
	add(dynsyms)
	sort.Sort(m)

	for _, prog := range ef.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags&elf.PF_X != 0 {
			m.execVaddr = prog.Vaddr
			break
		}
	}
	return m, nil
}

func (m *moduleSyms) Len() int           { return len(m.addrs) }
func (m *moduleSyms) Swap(i, j int)      { m.addrs[i], m.addrs[j] = m.addrs[j], m.addrs[i]; m.names[i], m.names[j] = m.names[j], m.names[i] }
func (m *moduleSyms) Less(i, j int) bool { return m.addrs[i] < m.addrs[j] }

type mapping struct {
	lo, hi, offset uint64
	path           string
}

// procMaps parses /proc/<pid>/maps into ordered, file-backed mappings.
func procMaps(pid int) ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var maps []mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || !strings.HasPrefix(fields[5], "/") {
			continue
		}
		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		lo, err1 := strconv.ParseUint(bounds[0], 16, 64)
		hi, err2 := strconv.ParseUint(bounds[1], 16, 64)
		off, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		maps = append(maps, mapping{lo: lo, hi: hi, offset: off, path: fields[5]})
	}
	return maps, sc.Err()
}

// ProcResolver resolves native addresses to demangled symbol names by
// mapping the target's /proc/<pid>/maps to its module files and consulting
// each module's ELF symbol table, in the style of bininspect's ELF
// reading. One instance is meant to be shared across samples for the same
// pid; it is safe for concurrent use.
type ProcResolver struct {
	demangleOpts []demangle.Option

	mu     sync.Mutex
	maps   map[int][]mapping
	tables map[string]*moduleSyms // keyed by file path
}

// NewProcResolver builds a resolver that demangles with the given option
// string (see cpp/demangle.ConvertDemangleOptions), e.g. "simplified".
func NewProcResolver(demangleOptions string) *ProcResolver {
	return &ProcResolver{
		demangleOpts: pyperfdemangle.ConvertDemangleOptions(demangleOptions),
		maps:         map[int][]mapping{},
		tables:       map[string]*moduleSyms{},
	}
}

// Resolve implements Unwinder. Failures (unmapped address, unreadable
// module, no symbol found) all report ok=false, which the walker renders
// as "(missing)" and treats as a stop condition (spec.md §4.6).
func (r *ProcResolver) Resolve(pid int, pc uint64) (string, bool) {
	r.mu.Lock()
	maps, ok := r.maps[pid]
	if !ok {
		var err error
		maps, err = procMaps(pid)
		if err != nil {
			r.mu.Unlock()
			return "", false
		}
		r.maps[pid] = maps
	}
	r.mu.Unlock()

	for _, m := range maps {
		if pc < m.lo || pc >= m.hi {
			continue
		}

		r.mu.Lock()
		table, ok := r.tables[m.path]
		if !ok {
			table, _ = loadModuleSyms(m.path) // nil on error, cached as such
			r.tables[m.path] = table
		}
		r.mu.Unlock()
		if table == nil {
			return "", false
		}
		// ELF symbol values are link-time vaddrs, not the mapping's file
		// offset; undo the runtime load bias the same way bininspect
		// computes it for the interpreter binary (mapped exec start minus
		// the file's own executable segment vaddr).
		bias := bininspect.LoadBias(m.lo, table.execVaddr)
		name, ok := table.resolve(pc - bias)
		if !ok {
			return "", false
		}
		return r.demangle(name), true
	}
	return "", false
}

func (r *ProcResolver) demangle(mangled string) string {
	if len(r.demangleOpts) == 0 {
		return mangled
	}
	return demangle.Filter(mangled, r.demangleOpts...)
}
