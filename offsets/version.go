// Package offsets implements the static registry mapping interpreter
// versions to struct-field offsets (component C1).
package offsets

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is a totally ordered {major, minor, patch} triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) semver() *semver.Version {
	return semver.New(uint64(v.Major), uint64(v.Minor), uint64(v.Patch), "", "")
}

// Less reports whether v sorts strictly before o, lexicographically on
// (Major, Minor, Patch).
func (v Version) Less(o Version) bool {
	return v.semver().Compare(o.semver()) < 0
}

// LessEq reports whether v <= o.
func (v Version) LessEq(o Version) bool {
	return v.semver().Compare(o.semver()) <= 0
}
