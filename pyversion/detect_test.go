package pyversion

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana-oss/pyperf/offsets"
)

// pad returns n bytes of filler that never matches version-like patterns.
func pad(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return b
}

func TestDetectStraddlingBoundary(t *testing.T) {
	// Place the match so it starts a few bytes before the first BUFSIZ
	// boundary and ends after it, forcing the sliding window to combine
	// two reads to find it. The buffer must be large enough that this is
	// not the file's final (short) read.
	before := pad(bufSize - 4)
	match := []byte("3.8.12")
	after := pad(bufSize * 2)
	data := append(append(before, match...), after...)

	v, err := Detect(bytes.NewReader(data), "3.8")
	require.NoError(t, err)
	require.Equal(t, offsets.Version{Major: 3, Minor: 8, Patch: 12}, v)
}

func TestDetectShortFileNeverSearched(t *testing.T) {
	// A file entirely smaller than bufSize is never searched at all, even
	// though it contains a valid match: the original scanner's first read
	// is short and it bails before ever calling regex_search.
	data := append(pad(10), []byte("3.8.12")...)
	_, err := Detect(bytes.NewReader(data), "3.8")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDetectNoMatch(t *testing.T) {
	data := pad(bufSize * 3)
	_, err := Detect(bytes.NewReader(data), "3.8")
	require.ErrorIs(t, err, ErrNotFound)
}
