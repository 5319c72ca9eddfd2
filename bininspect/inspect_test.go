package bininspect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyPythonPath(t *testing.T) {
	mm, isLib, ok := classifyPythonPath("/usr/lib/x86_64-linux-gnu/libpython3.8.so.1.0")
	require.True(t, ok)
	require.True(t, isLib)
	require.Equal(t, "3.8", mm)

	mm, isLib, ok = classifyPythonPath("/usr/bin/python3.10")
	require.True(t, ok)
	require.False(t, isLib)
	require.Equal(t, "3.10", mm)

	_, _, ok = classifyPythonPath("/usr/lib/libc.so.6")
	require.False(t, ok)
}

func TestIsMuslPath(t *testing.T) {
	require.True(t, isMuslPath("/lib/ld-musl-x86_64.so.1"))
	require.False(t, isMuslPath("/lib/x86_64-linux-gnu/libc.so.6"))
}

func TestLoadBias(t *testing.T) {
	require.Equal(t, uint64(0x1000), LoadBias(0x556000001000, 0x556000000000))
}
