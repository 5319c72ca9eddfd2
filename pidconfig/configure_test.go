package pidconfig

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana-oss/pyperf/offsets"
)

func TestPyRuntimeVaddrForRefuses36(t *testing.T) {
	require.Equal(t, uint64(0), pyRuntimeVaddrFor(offsets.Version{Major: 3, Minor: 6, Patch: 9}, 0xdead))
	require.Equal(t, uint64(0xdead), pyRuntimeVaddrFor(offsets.Version{Major: 3, Minor: 7, Patch: 0}, 0xdead))
	require.Equal(t, uint64(0), pyRuntimeVaddrFor(offsets.Version{Major: 2, Minor: 7, Patch: 0}, 0))
}
