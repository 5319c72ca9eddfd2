//go:build linux

// Package nativeunwind implements the native (C) stack unwinder
// (component C7): given a raw stack slice captured alongside a sample
// plus its ip/sp, it walks native frames via libunwind until it reaches
// the Python evaluation frame.
package nativeunwind

/*
#cgo LDFLAGS: -lunwind-ptrace -lunwind-generic -lunwind
#include <stdlib.h>
#include <string.h>
#include <libunwind.h>
#include <libunwind-ptrace.h>

extern int pyperfAccessMem(unw_addr_space_t as, unw_word_t addr, unw_word_t *val, int write, void *arg);
extern int pyperfAccessReg(unw_addr_space_t as, unw_regnum_t regnum, unw_word_t *val, int write, void *arg);

// pyperf_accessors starts from the stock UPT accessor table (the same one
// libunwind-ptrace uses against a real ptrace'd process) and overrides
// only the memory/register accessors with our bounded, non-ptrace
// versions; access_fpreg and resume are nulled so libunwind can never
// fall back to ptrace underneath us (spec.md §4.6).
static unw_accessors_t pyperf_accessors;

static void pyperf_init_accessors(void) {
	pyperf_accessors = _UPT_accessors;
	pyperf_accessors.access_mem = pyperfAccessMem;
	pyperf_accessors.access_reg = pyperfAccessReg;
	pyperf_accessors.access_fpreg = NULL;
	pyperf_accessors.resume = NULL;
}

static unw_addr_space_t pyperf_create_addr_space(void) {
	pyperf_init_accessors();
	return unw_create_addr_space(&pyperf_accessors, 0);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// redZone is the x86-64 System V red zone below sp that the memory
// accessor also serves from the captured slice (spec.md §4.6).
const redZone = 128

// escapePages bounds the window outside the captured slice that is
// rejected outright, before falling back to cross-process reads, to keep
// the unwinder from wandering into ptrace territory.
const escapePages = 32
const pageSize = 4096

// evalFrameNames are the symbol names at which unwinding stops: the
// Python evaluation frame above which frames are already covered by the
// kernel walker's Python stack.
var evalFrameNames = map[string]bool{
	"_PyEval_EvalFrameDefault": true, // 3.x
	"PyEval_EvalFrameEx":       true, // 2.7
}

// Sample is the raw material the kernel produces per event: the captured
// stack slice plus the registers at sample time.
type Sample struct {
	Pid   int
	IP    uint64
	SP    uint64
	Stack []byte // captured starting at SP - redZone
}

// Frame is one resolved (and possibly demangled) native frame.
type Frame struct {
	Name string
	// Missing is true when symbol lookup failed for this frame; the
	// caller renders "(missing)" and stops (spec.md §4.6).
	Missing bool
}

// Result is the unwound native stack for one sample.
type Result struct {
	Frames  []Frame
	// Truncated is true if the unwinder stopped because libunwind could
	// not read a frame's ip or step to its caller, rather than at the
	// eval frame or on a symbol error.
	Truncated bool
}

// accessorState is passed through cgo as the opaque `void *arg` and
// pinned for the duration of one Unwind call via a package-level
// registry (cgo cannot hold a Go pointer across the C call boundary
// safely without pinning through cgo.Handle).
type accessorState struct {
	pid       int
	ip, sp    uint64
	stack     []byte
	cache     struct {
		addr uint64
		val  uint64
		ok   bool
	}
	lastErr error
}

// Unwinder resolves native symbol names for addresses reached during a
// walk. ProcResolver is the production implementation.
type Unwinder interface {
	Resolve(pid int, pc uint64) (name string, ok bool)
}

// Walker drives libunwind over captured samples.
type Walker struct {
	sym Unwinder
}

func NewWalker(sym Unwinder) *Walker {
	return &Walker{sym: sym}
}

// Unwind walks s until it reaches a Python eval frame, a symbol
// resolution failure, a frame libunwind cannot read or step past, or a
// limit of 128 frames.
func (w *Walker) Unwind(s Sample) (Result, error) {
	state := &accessorState{pid: s.Pid, ip: s.IP, sp: s.SP, stack: s.Stack}
	handle := registerState(state)
	defer unregisterState(handle)

	as := C.pyperf_create_addr_space()
	if as == 0 {
		return Result{}, errors.New("nativeunwind: unw_create_addr_space failed")
	}
	defer C.unw_destroy_addr_space(as)

	var cursor C.unw_cursor_t
	if C.unw_init_remote(&cursor, as, unsafe.Pointer(uintptr(handle))) < 0 {
		return Result{}, errors.New("nativeunwind: unw_init_remote failed")
	}

	var res Result
	for i := 0; i < 128; i++ {
		var ip C.unw_word_t
		if C.unw_get_reg(&cursor, C.UNW_REG_IP, &ip) < 0 {
			res.Truncated = true
			break
		}
		name, ok := w.sym.Resolve(s.Pid, uint64(ip))
		if !ok {
			res.Frames = append(res.Frames, Frame{Missing: true})
			break
		}
		if evalFrameNames[name] {
			break
		}
		res.Frames = append(res.Frames, Frame{Name: name})

		if C.unw_step(&cursor) <= 0 {
			res.Truncated = true
			break
		}
	}
	if state.lastErr != nil {
		return res, state.lastErr
	}
	return res, nil
}

// read serves a memory read from the captured slice/red-zone window,
// refuses reads in the surrounding escape buffer, and otherwise reads the
// target through process_vm_readv, behind a one-entry cache keyed on the
// exact address.
//
// Returns (value, true, nil) on a served read; (0, false, err) when the
// address is refused or the cross-process read fails (EINVAL equivalent).
func (a *accessorState) read(addr uint64) (uint64, bool, error) {
	lo := a.sp - redZone
	hi := lo + uint64(len(a.stack))
	if addr >= lo && addr+8 <= hi {
		off := addr - lo
		return leUint64(a.stack[off : off+8]), true, nil
	}

	escapeLo := lo - escapePages*pageSize
	escapeHi := hi + escapePages*pageSize
	if addr >= escapeLo && addr < escapeHi {
		return 0, false, fmt.Errorf("nativeunwind: refused stack escape read at %#x", addr)
	}

	if a.cache.ok && a.cache.addr == addr {
		return a.cache.val, true, nil
	}
	var buf [8]byte
	n, err := processVMRead(a.pid, addr, buf[:])
	if err != nil || n != len(buf) {
		return 0, false, fmt.Errorf("nativeunwind: process_vm_readv %#x: %w", addr, err)
	}
	val := leUint64(buf[:])
	a.cache.addr, a.cache.val, a.cache.ok = addr, val, true
	return val, true, nil
}

func processVMRead(pid int, addr uint64, dst []byte) (int, error) {
	local := []unix.Iovec{{Base: &dst[0], Len: uint64(len(dst))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(dst)}}
	return unix.ProcessVMReadv(pid, local, remote, 0)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
