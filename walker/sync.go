package walker

// StackStatus mirrors the BPF-side stack_status enum (see bpf/pyperf.bpf.c).
type StackStatus int32

const (
	StackStatusComplete StackStatus = iota
	StackStatusError
	StackStatusTruncated
)

func (s StackStatus) String() string {
	switch s {
	case StackStatusComplete:
		return "COMPLETE"
	case StackStatusError:
		return "ERROR"
	case StackStatusTruncated:
		return "TRUNCATED"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode mirrors the BPF-side error_code enum.
//
//	enum error_code {
//		ERROR_NONE = 0,
//		ERROR_THREAD_STATE_NULL,
//		ERROR_EMPTY_STACK,
//		ERROR_INTERPRETER_NULL,
//		ERROR_THREAD_STATE_NOT_FOUND,
//		ERROR_TOO_MANY_THREADS,
//		ERROR_BAD_THREAD_STATE,
//		ERROR_THREAD_STATE_HEAD_NULL,
//		ERROR_MISSING_PYSTATE,
//		ERROR_INVALID_PTHREADS_IMPL,
//		ERROR_BAD_FSBASE,
//	};
type ErrorCode int32

const (
	ErrorNone ErrorCode = iota
	ErrorThreadStateNull
	ErrorEmptyStack
	ErrorInterpreterNull
	ErrorThreadStateNotFound
	ErrorTooManyThreads
	ErrorBadThreadState
	ErrorThreadStateHeadNull
	ErrorMissingPystate
	ErrorInvalidPthreadsImpl
	ErrorBadFsbase
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "ERROR_NONE"
	case ErrorThreadStateNull:
		return "ERROR_THREAD_STATE_NULL"
	case ErrorEmptyStack:
		return "ERROR_EMPTY_STACK"
	case ErrorInterpreterNull:
		return "ERROR_INTERPRETER_NULL"
	case ErrorThreadStateNotFound:
		return "ERROR_THREAD_STATE_NOT_FOUND"
	case ErrorTooManyThreads:
		return "ERROR_TOO_MANY_THREADS"
	case ErrorBadThreadState:
		return "ERROR_BAD_THREAD_STATE"
	case ErrorThreadStateHeadNull:
		return "ERROR_THREAD_STATE_HEAD_NULL"
	case ErrorMissingPystate:
		return "ERROR_MISSING_PYSTATE"
	case ErrorInvalidPthreadsImpl:
		return "ERROR_INVALID_PTHREADS_IMPL"
	case ErrorBadFsbase:
		return "ERROR_BAD_FSBASE"
	default:
		return "ERROR_UNKNOWN"
	}
}

// FrameCodeIsNull is the per-frame sentinel stack id (spec.md §3, §4.5,
// §7): a frame whose f_code pointer reads NULL is encoded in-line rather
// than aborting the whole stack.
const FrameCodeIsNull int32 = -2147483647 // 0x80000001 reinterpreted as signed

// Transient reports whether err is a per-sample, non-fatal condition that
// never interrupts sampling (spec.md §7).
func (e ErrorCode) Transient() bool {
	switch e {
	case ErrorThreadStateNull, ErrorEmptyStack, ErrorInterpreterNull:
		return true
	default:
		return false
	}
}

// ConfigDrift reports whether err indicates offsets are wrong or the
// target changed state mid-walk.
func (e ErrorCode) ConfigDrift() bool {
	switch e {
	case ErrorThreadStateNotFound, ErrorTooManyThreads, ErrorBadThreadState, ErrorThreadStateHeadNull:
		return true
	default:
		return false
	}
}

// HostMisconfig reports whether persistent recurrence of err implies a
// configuration bug on the host rather than target state.
func (e ErrorCode) HostMisconfig() bool {
	switch e {
	case ErrorMissingPystate, ErrorInvalidPthreadsImpl, ErrorBadFsbase:
		return true
	default:
		return false
	}
}
