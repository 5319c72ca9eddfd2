//go:build linux

package nativeunwind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModuleSymsResolve(t *testing.T) {
	m := &moduleSyms{
		addrs: []uint64{0x1000, 0x2000, 0x3000},
		names: []string{"a", "b", "c"},
	}
	name, ok := m.resolve(0x2500)
	require.True(t, ok)
	require.Equal(t, "b", name)

	_, ok = m.resolve(0x500)
	require.False(t, ok)
}

func TestProcResolverDemangle(t *testing.T) {
	r := NewProcResolver("none")
	require.Equal(t, "_Z1fv", r.demangle("_Z1fv"))

	r = NewProcResolver("simplified")
	require.NotEmpty(t, r.demangle("_Z1fv"))
}
