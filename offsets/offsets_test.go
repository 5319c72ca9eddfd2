package offsets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupMonotonic(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		q    Version
		want Version
	}{
		{Version{2, 7, 18}, Version{2, 7, 0}},
		{Version{2, 4, 0}, Version{2, 7, 0}},
		{Version{3, 6, 9}, Version{3, 6, 0}},
		{Version{3, 6, 0}, Version{3, 6, 0}},
		{Version{3, 7, 5}, Version{3, 7, 0}},
		{Version{3, 8, 0}, Version{3, 8, 0}},
		{Version{3, 9, 7}, Version{3, 8, 0}},
		{Version{3, 10, 4}, Version{3, 10, 0}},
		{Version{3, 12, 0}, Version{3, 10, 0}},
	}
	for _, c := range cases {
		want, wantOK := r.Lookup(c.want)
		require.True(t, wantOK)
		got, ok := r.Lookup(c.q)
		require.True(t, ok)
		require.Equal(t, want, got, "lookup(%s)", c.q)
	}
}

func TestLookupBelowSmallest(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup(Version{3, 5, 0})
	require.False(t, ok)
}

func Test36NeverUsesInterpMain(t *testing.T) {
	r := NewRegistry()
	o, ok := r.Lookup(Version{3, 6, 2})
	require.True(t, ok)
	require.Equal(t, int64(-1), o.PyRuntimeState.InterpMain)
}

func Test310KeepsInterpMainActive(t *testing.T) {
	r := NewRegistry()
	o, ok := r.Lookup(Version{3, 10, 0})
	require.True(t, ok)
	require.NotEqual(t, int64(-1), o.PyRuntimeState.InterpMain)
	require.Equal(t, int64(-1), o.String.Size)
}
