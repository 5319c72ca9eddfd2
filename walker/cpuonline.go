//go:build linux

package walker

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
)

// onlineCPUs parses /sys/devices/system/cpu/online, which lists ranges
// like "0-3,5,7-8". Not present anywhere in the sibling packages' import
// graph as a standalone dependency, so this is a small direct port of the
// well-known cilium/ebpf ecosystem idiom rather than a wrapped library.
func onlineCPUs() ([]int, error) {
	data, err := os.ReadFile("/sys/devices/system/cpu/online")
	if err != nil {
		return nil, err
	}
	var cpus []int
	for _, part := range strings.Split(strings.TrimSpace(string(data)), ",") {
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, err
			}
			for c := lo; c <= hi; c++ {
				cpus = append(cpus, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		cpus = append(cpus, c)
	}
	return cpus, nil
}

func verifierErrorAs(err error, target **ebpf.VerifierError) bool {
	return errors.As(err, target)
}

// pageMultiplier sizes the perf ring buffer in units the cilium/ebpf
// perf.Reader expects (a page-count multiplier, rounded up internally).
func pageMultiplier() int { return 64 }
