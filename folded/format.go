// Package folded implements the folded-stack emitter (component C9): it
// renders aggregated samples as flame-graph-ready text and manages output
// file rotation.
package folded

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samber/lo"

	"github.com/grafana-oss/pyperf/aggregator"
	"github.com/grafana-oss/pyperf/walker"
)

const lostSymbol = "[Lost Symbol]"
const truncatedStack = "[Truncated]"

// KernelResolver resolves a kernel stack id to its ordered (innermost
// first) list of frame names. KallsymsResolver in kernel.go, backed by
// walker.KernelStacks(), is the production implementation.
type KernelResolver interface {
	Resolve(kernelStackID int64) ([]string, error)
}

// Writer implements aggregator.Emitter: one Emit call renders a batch and
// rotates the output file (spec.md §4.8, §6).
type Writer struct {
	path   string
	kernel KernelResolver
}

// NewWriter builds a Writer. path == "" means write to stdout, in which
// case no rotation happens. kernel may be nil, in which case `_[k]`
// frames are never emitted.
func NewWriter(path string, kernel KernelResolver) *Writer {
	return &Writer{path: path, kernel: kernel}
}

var _ aggregator.Emitter = (*Writer)(nil)

// Emit renders samples against symbols, then flushes to stdout or to a
// freshly opened, then renamed, output file.
func (w *Writer) Emit(samples []aggregator.Sample, symbols map[uint32]string) error {
	if w.path == "" {
		out := bufio.NewWriter(os.Stdout)
		if err := w.render(out, samples, symbols); err != nil {
			return err
		}
		return out.Flush()
	}

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("folded: open output: %w", err)
	}
	out := bufio.NewWriter(f)
	if err := w.render(out, samples, symbols); err != nil {
		_ = f.Close()
		return err
	}
	if err := out.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	finalPath := w.path + "." + timestamp(time.Now())
	if err := os.Rename(w.path, finalPath); err != nil {
		return fmt.Errorf("folded: rename %s -> %s: %w", w.path, finalPath, err)
	}
	return nil
}

// timestamp matches the original printer's local-time, two-digit
// hundredths-of-a-second stamp: YYYYMMDDHHMMSSff.
func timestamp(t time.Time) string {
	return fmt.Sprintf("%s%02d", t.Local().Format("20060102150405"), t.Nanosecond()/10000000)
}

func (w *Writer) render(out io.Writer, samples []aggregator.Sample, symbols map[uint32]string) error {
	for _, s := range samples {
		if err := w.renderSample(out, s, symbols); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) renderSample(out io.Writer, s aggregator.Sample, symbols map[uint32]string) error {
	if _, err := fmt.Fprintf(out, "%s-%d/%d", s.Comm, s.Pid, s.Tid); err != nil {
		return err
	}

	switch s.StackStatus {
	case walker.StackStatusTruncated:
		if _, err := fmt.Fprintf(out, ";%s_[pe]", truncatedStack); err != nil {
			return err
		}
	case walker.StackStatusError:
		if _, err := fmt.Fprintf(out, ";[Sample Error %s]_[pe]", s.ErrorCode.String()); err != nil {
			return err
		}
	}

	for _, id := range lo.Reverse(s.PyStack) {
		if id < 0 {
			if id == walker.FrameCodeIsNull {
				if _, err := fmt.Fprint(out, ";(missing)_[pe]"); err != nil {
					return err
				}
			} else if _, err := fmt.Fprintf(out, ";[Error (errnos) %d]_[pe]", -id); err != nil {
				return err
			}
			continue
		}
		name, ok := symbols[uint32(id)]
		if !ok {
			if _, err := fmt.Fprintf(out, ";%s_[pe]", lostSymbol); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, ";%s_[p]", name); err != nil {
			return err
		}
	}

	// Native frames sit between the Python and kernel sections: the
	// unwinder walks from the innermost native frame (closest to the
	// sample's ip) outward to the Python eval frame, so printing them in
	// reverse continues the outer-to-inner ordering (spec.md §8, property 4).
	for _, frame := range lo.Reverse(s.Native.Frames) {
		if frame.Missing {
			if _, err := fmt.Fprint(out, ";(missing)_[pe]"); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, ";%s_[pn]", frame.Name); err != nil {
			return err
		}
	}

	if w.kernel != nil && s.KernelStackID > 0 {
		frames, err := w.kernel.Resolve(s.KernelStackID)
		if err == nil {
			for _, frame := range lo.Reverse(frames) {
				if _, err := fmt.Fprintf(out, ";%s_[k]", frame); err != nil {
					return err
				}
			}
		}
	}

	_, err := fmt.Fprint(out, " 1\n")
	return err
}
