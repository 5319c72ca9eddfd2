// Package pyversion implements the version-string scanner (component C2):
// given an open binary and a partial "MAJOR.MINOR" string, it recovers the
// full MAJOR.MINOR.PATCH version by scanning the file's bytes.
package pyversion

import (
	"errors"
	"io"
	"regexp"
	"strconv"

	"github.com/grafana-oss/pyperf/offsets"
)

// ErrNotFound is returned when no MAJOR.MINOR.PATCH match is found.
var ErrNotFound = errors.New("pyversion: version string not found")

// bufSize mirrors libc's BUFSIZ on Linux glibc (stdio's default buffer),
// matching the block size the original scanner reads.
const bufSize = 8192

// Detect scans r for a version string with the given major.minor prefix and
// returns the full triple.
//
// The scan reads BUFSIZ-sized blocks into a sliding two-block buffer so a
// match straddling a block boundary is not missed (spec.md §4.2, testable
// property 2). Faithfully to the original scanner, the final block of a
// file — the read that returns fewer than bufSize bytes, including a file
// smaller than bufSize entirely — is never searched: a short read ends the
// scan immediately without attempting a match against the leftover bytes.
// This means a version string wholly contained in a trailing short read is
// not found; see DESIGN.md Open Questions.
func Detect(r io.ReaderAt, majorMinor string) (offsets.Version, error) {
	pattern, err := versionPattern(majorMinor)
	if err != nil {
		return offsets.Version{}, err
	}

	buf := make([]byte, bufSize*2)
	var read1 int
	var offset int64
	for {
		n, rerr := readFull(r, buf[read1:read1+bufSize], offset)
		offset += int64(n)
		if n != bufSize {
			// Short read (including EOF on the very first block): stop
			// without searching this trailing block, matching the
			// original scanner's behavior exactly.
			if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
				return offsets.Version{}, rerr
			}
			break
		}
		window := buf[:read1+n]
		if m := pattern.Find(window); m != nil {
			return parseVersion(string(m))
		}
		copy(buf, buf[read1:read1+n])
		read1 = n
	}
	return offsets.Version{}, ErrNotFound
}

func readFull(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if err == io.EOF && n > 0 {
		return n, io.EOF
	}
	return n, err
}

func versionPattern(majorMinor string) (*regexp.Regexp, error) {
	// majorMinor is e.g. "3.8"; build the equivalent of MAJOR\.MINOR\.[0-9]+\b
	escaped := regexp.QuoteMeta(majorMinor)
	return regexp.Compile(escaped + `\.[0-9]+\b`)
}

func parseVersion(s string) (offsets.Version, error) {
	parts := splitDot(s)
	if len(parts) != 3 {
		return offsets.Version{}, ErrNotFound
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return offsets.Version{}, ErrNotFound
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return offsets.Version{}, ErrNotFound
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return offsets.Version{}, ErrNotFound
	}
	return offsets.Version{Major: major, Minor: minor, Patch: patch}, nil
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
