// Package pidconfig implements the per-PID configurator (component C4):
// given a pid, it runs the binary inspector, version detector and offsets
// registry, and produces the PerPidRecord the kernel walker consults.
package pidconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/grafana-oss/pyperf/bininspect"
	"github.com/grafana-oss/pyperf/offsets"
	"github.com/grafana-oss/pyperf/pyversion"
)

// Globals holds the vaddrs the kernel walker dereferences to root its
// traversal, plus a stable readable address used to zero per-iteration
// scratch (spec.md §3, PerPidRecord.globals).
type Globals struct {
	ConstantBufferVaddr     uint64
	ThreadStateCurrentVaddr uint64
	PyRuntimeVaddr          uint64
}

// PerPidRecord is installed into the BPF map the kernel walker reads.
type PerPidRecord struct {
	PthreadsFlavor bininspect.PthreadsFlavor
	Globals        Globals
	Offsets        offsets.StructOffsets
	// CachedInterpVaddr starts at 0 and is lazily populated by the walker
	// at first successful sample; the walker does not reset it afterwards.
	// Kept here only as the initial value installed on first
	// configuration.
	CachedInterpVaddr uint64
}

// devInode identifies a binary independent of which process mapped it, so
// PythonBinaryInfo can be shared by processes sharing an executable/library.
type devInode struct {
	Dev, Inode uint64
}

type binaryInfo struct {
	execVaddr               uint64
	pyRuntimeVaddr          uint64
	threadStateCurrentVaddr uint64
	structOffsets           offsets.StructOffsets
}

// Configurator orchestrates C1-C3 and caches PythonBinaryInfo by
// (device, inode) so processes sharing a binary reuse the same record
// (spec.md §3 lifecycle).
type Configurator struct {
	logger   log.Logger
	registry *offsets.Registry
	cache    *lru.Cache[devInode, binaryInfo]
}

// NewConfigurator builds a Configurator with a bounded binary-info cache.
func NewConfigurator(logger log.Logger, cacheSize int) (*Configurator, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[devInode, binaryInfo](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Configurator{
		logger:   logger,
		registry: offsets.NewRegistry(),
		cache:    cache,
	}, nil
}

// ErrSkip is returned (wrapped) when a pid should be silently skipped:
// it is a kernel thread or has no Python-like module mapped.
var ErrSkip = errors.New("pidconfig: skip")

// Configure runs the full C4 pipeline for pid, returning the record to
// install into the kernel walker's per-PID map.
func (c *Configurator) Configure(pid int) (PerPidRecord, error) {
	if isKernelThread(pid) {
		return PerPidRecord{}, errors.Wrap(ErrSkip, "kernel thread")
	}

	mod, err := bininspect.FindModule(pid)
	if err != nil {
		if err == bininspect.ErrNotPython {
			return PerPidRecord{}, errors.Wrap(ErrSkip, "not python")
		}
		return PerPidRecord{}, err
	}

	rootPath := filepath.Join("/proc", fmt.Sprint(pid), "root", mod.Path)
	dev, inode, statErr := statDevInode(rootPath)
	if statErr != nil {
		return PerPidRecord{}, errors.Wrap(statErr, "bininspect: unreadable module")
	}

	key := devInode{Dev: dev, Inode: inode}
	info, ok := c.cache.Get(key)
	if !ok {
		info, err = c.buildBinaryInfo(rootPath, mod.MajorMinor)
		if err != nil {
			level.Error(c.logger).Log("msg", "failed to build binary info", "pid", pid, "path", rootPath, "err", err)
			return PerPidRecord{}, errors.Wrap(err, "fatal for pid")
		}
		c.cache.Add(key, info)
	}

	bias := bininspect.LoadBias(mod.StartAddr, info.execVaddr)
	g := Globals{ConstantBufferVaddr: bias + info.execVaddr}
	if info.pyRuntimeVaddr != 0 {
		g.PyRuntimeVaddr = bias + info.pyRuntimeVaddr
	} else {
		g.ThreadStateCurrentVaddr = bias + info.threadStateCurrentVaddr
	}

	return PerPidRecord{
		PthreadsFlavor: mod.Flavor,
		Globals:        g,
		Offsets:        info.structOffsets,
	}, nil
}

func (c *Configurator) buildBinaryInfo(rootPath, majorMinor string) (binaryInfo, error) {
	f, err := os.Open(rootPath)
	if err != nil {
		return binaryInfo{}, err
	}
	v, err := pyversion.Detect(f, majorMinor)
	closeErr := f.Close()
	if err != nil {
		return binaryInfo{}, errors.Wrap(err, "version detect")
	}
	if closeErr != nil {
		return binaryInfo{}, closeErr
	}

	so, ok := c.registry.Lookup(v)
	if !ok {
		return binaryInfo{}, errors.Errorf("no offsets registered for version %s", v)
	}

	syms, err := bininspect.ScanELF(rootPath)
	if err != nil {
		return binaryInfo{}, errors.Wrap(err, "elf scan")
	}
	if syms.PyRuntimeVaddr == 0 && syms.ThreadStateCurrentVaddr == 0 {
		return binaryInfo{}, errors.New("neither _PyRuntime nor _PyThreadState_Current found")
	}
	syms.PyRuntimeVaddr = pyRuntimeVaddrFor(v, syms.PyRuntimeVaddr)

	return binaryInfo{
		execVaddr:               syms.ExecVaddr,
		pyRuntimeVaddr:          syms.PyRuntimeVaddr,
		threadStateCurrentVaddr: syms.ThreadStateCurrentVaddr,
		structOffsets:           so,
	}, nil
}

// pyRuntimeVaddrFor enforces Open Question (b): 3.6 must never use the
// _PyRuntime path even if a symbol scan happens to find one, because its
// interp_main offset is not applicable and would read garbage.
func pyRuntimeVaddrFor(v offsets.Version, scanned uint64) uint64 {
	if v.Major == 3 && v.Minor == 6 {
		return 0
	}
	return scanned
}

func isKernelThread(pid int) bool {
	_, err := os.Readlink(filepath.Join("/proc", fmt.Sprint(pid), "exe"))
	return err != nil
}

func statDevInode(path string) (dev, inode uint64, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	return statDevInodeFromFileInfo(fi)
}
