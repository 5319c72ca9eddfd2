//go:build linux

package aggregator

import (
	"regexp"
	"strings"

	"github.com/cilium/ebpf"

	"github.com/grafana-oss/pyperf/walker"
)

var (
	moduleOptPrefix = regexp.MustCompile(`^(/opt|/usr(/local)?)`)
	moduleSitePkgs  = regexp.MustCompile(`^/lib/python[23](\.[0-9]+)?(/(site|dist)-packages)?`)
	moduleLeadSlash = regexp.MustCompile(`^/`)
	modulePySuffix  = regexp.MustCompile(`\.(py|pyc|pyo)$`)
)

// moduleName turns a source file path into a dotted module name the way
// flame-graph tools expect, e.g. "/usr/lib/python3.8/site-packages/foo/bar.py"
// becomes "foo.bar".
func moduleName(file string) string {
	m := moduleOptPrefix.ReplaceAllString(file, "")
	m = moduleSitePkgs.ReplaceAllString(m, "")
	m = moduleLeadSlash.ReplaceAllString(m, "")
	m = modulePySuffix.ReplaceAllString(m, "")
	return strings.ReplaceAll(m, "/", ".")
}

// snapshotSymbols reads the full symbol dedup map (component C6) into a
// plain id -> rendered-name map, one flush at a time (spec.md §5's
// "user reads its full contents once per flush" snapshot semantics).
// Iteration rather than a batch call keeps this portable across kernels
// that don't support BPF_MAP_LOOKUP_BATCH for hash maps.
func snapshotSymbols(m *ebpf.Map) (map[uint32]string, error) {
	symbols := make(map[uint32]string, m.MaxEntries())
	var key walker.PyperfSymbol
	var id uint32
	it := m.Iterate()
	for it.Next(&key, &id) {
		symbols[id] = symbolName(key)
	}
	return symbols, it.Err()
}

func symbolName(sym walker.PyperfSymbol) string {
	name := cString(sym.Name[:])
	class := cString(sym.Classname[:])
	if class != "" {
		name = class + "." + name
	}

	file := cString(sym.File[:])
	if file == "" {
		return name
	}
	return moduleName(file) + "." + name + " (" + file + ")"
}

func cString(b []int8) string {
	u8 := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		u8 = append(u8, byte(c))
	}
	return string(u8)
}
