package folded

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana-oss/pyperf/aggregator"
	"github.com/grafana-oss/pyperf/nativeunwind"
	"github.com/grafana-oss/pyperf/walker"
)

func TestRenderSampleBasic(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer

	s := aggregator.Sample{
		Comm:        "python3",
		Pid:         42,
		Tid:         42,
		StackStatus: walker.StackStatusComplete,
		PyStack:     []int32{2, 1, 0}, // deepest-first: bar, foo, main
	}
	symbols := map[uint32]string{0: "mod.main", 1: "mod.foo", 2: "mod.bar"}

	require.NoError(t, w.renderSample(&buf, s, symbols))
	require.Equal(t, "python3-42/42;mod.main_[p];mod.foo_[p];mod.bar_[p] 1\n", buf.String())
}

func TestRenderSampleTruncated(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer
	s := aggregator.Sample{Comm: "python3", Pid: 1, Tid: 1, StackStatus: walker.StackStatusTruncated}
	require.NoError(t, w.renderSample(&buf, s, nil))
	require.Contains(t, buf.String(), ";[Truncated]_[pe]")
}

func TestRenderSampleErrorUsesSymbolicName(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer
	s := aggregator.Sample{
		Comm:        "python3",
		Pid:         1,
		Tid:         1,
		StackStatus: walker.StackStatusError,
		ErrorCode:   walker.ErrorThreadStateNull,
	}
	require.NoError(t, w.renderSample(&buf, s, nil))
	require.Contains(t, buf.String(), "[Sample Error ERROR_THREAD_STATE_NULL]_[pe]")
}

func TestRenderSampleFrameCodeIsNullSentinel(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer
	s := aggregator.Sample{Comm: "p", Pid: 1, Tid: 1, PyStack: []int32{walker.FrameCodeIsNull}}
	require.NoError(t, w.renderSample(&buf, s, nil))
	require.Contains(t, buf.String(), ";(missing)_[pe]")
}

func TestRenderSampleLostSymbol(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer
	s := aggregator.Sample{Comm: "p", Pid: 1, Tid: 1, PyStack: []int32{7}}
	require.NoError(t, w.renderSample(&buf, s, map[uint32]string{}))
	require.Contains(t, buf.String(), ";[Lost Symbol]_[pe]")
}

func TestRenderSampleNativeFramesBetweenPythonAndKernel(t *testing.T) {
	w := NewWriter("", nil)
	var buf bytes.Buffer
	s := aggregator.Sample{
		Comm:        "p",
		Pid:         1,
		Tid:         1,
		PyStack:     []int32{0},
		Native:      nativeunwind.Result{Frames: []nativeunwind.Frame{{Name: "inner"}, {Name: "outer"}}},
	}
	require.NoError(t, w.renderSample(&buf, s, map[uint32]string{0: "mod.f"}))
	require.Equal(t, "p-1/1;mod.f_[p];outer_[pn];inner_[pn] 1\n", buf.String())
}
