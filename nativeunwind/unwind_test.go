//go:build linux

package nativeunwind

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadServesFromCapturedWindow(t *testing.T) {
	sp := uint64(0x7ffd00001000)
	stack := make([]byte, 4096)
	// place a known 8-byte value at sp, just above the red zone
	copy(stack[redZone:redZone+8], []byte{1, 0, 0, 0, 0, 0, 0, 0})
	a := &accessorState{sp: sp, stack: stack}

	v, ok, err := a.read(sp)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
}

func TestReadRefusesEscapeWindow(t *testing.T) {
	sp := uint64(0x7ffd00001000)
	stack := make([]byte, 4096)
	a := &accessorState{sp: sp, stack: stack}

	// just outside the captured slice but inside the escape buffer
	addr := sp - redZone + uint64(len(stack)) + pageSize
	_, ok, err := a.read(addr)
	require.False(t, ok)
	require.Error(t, err)
}

func TestLeUint64(t *testing.T) {
	require.Equal(t, uint64(0x0807060504030201), leUint64([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}
