//go:build linux

package nativeunwind

/*
#include <libunwind.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

// registerState pins state behind a runtime/cgo.Handle so its address can
// be passed through the C `void *arg` accessor argument without violating
// cgo's pointer-passing rules.
func registerState(s *accessorState) cgo.Handle {
	return cgo.NewHandle(s)
}

func unregisterState(h cgo.Handle) {
	h.Delete()
}

func stateFromArg(arg unsafe.Pointer) *accessorState {
	h := cgo.Handle(uintptr(arg))
	return h.Value().(*accessorState)
}

//export pyperfAccessMem
func pyperfAccessMem(as C.unw_addr_space_t, addr C.unw_word_t, val *C.unw_word_t, write C.int, arg unsafe.Pointer) C.int {
	state := stateFromArg(arg)
	if write != 0 {
		return -C.UNW_EINVAL // register/memory accessor rejects writes (spec.md §4.6)
	}
	v, ok, err := state.read(uint64(addr))
	if err != nil {
		state.lastErr = err
		return -C.UNW_EINVAL
	}
	if !ok {
		return -C.UNW_EINVAL
	}
	*val = C.unw_word_t(v)
	return 0
}

//export pyperfAccessReg
func pyperfAccessReg(as C.unw_addr_space_t, regnum C.unw_regnum_t, val *C.unw_word_t, write C.int, arg unsafe.Pointer) C.int {
	state := stateFromArg(arg)
	if write != 0 {
		return -C.UNW_EINVAL
	}
	switch regnum {
	case C.UNW_REG_IP:
		*val = C.unw_word_t(state.ip)
		return 0
	case C.UNW_X86_64_RSP, C.UNW_REG_SP:
		*val = C.unw_word_t(state.sp)
		return 0
	default:
		return -C.UNW_EBADREG
	}
}
