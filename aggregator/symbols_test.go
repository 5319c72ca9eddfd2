//go:build linux

package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana-oss/pyperf/walker"
)

func TestModuleName(t *testing.T) {
	require.Equal(t, "foo.bar", moduleName("/usr/lib/python3.8/site-packages/foo/bar.py"))
	require.Equal(t, "app.main", moduleName("/opt/app/main.py"))
}

func TestCString(t *testing.T) {
	require.Equal(t, "self", cString([]int8{'s', 'e', 'l', 'f', 0, 0}))
	require.Equal(t, "", cString([]int8{0, 'x'}))
}

func TestSymbolName(t *testing.T) {
	var sym walker.PyperfSymbol
	copy(sym.Classname[:], []int8{'W', 'i', 'd', 'g', 'e', 't'})
	copy(sym.Name[:], []int8{'m', 'e', 't', 'h', 'o', 'd'})
	copy(sym.File[:], []int8{'/', 'o', 'p', 't', '/', 'a', '.', 'p', 'y'})

	require.Contains(t, symbolName(sym), "Widget.method")
}
