//go:build linux

package pidconfig

import (
	"fmt"
	"os"
	"syscall"
)

func statDevInodeFromFileInfo(fi os.FileInfo) (dev, inode uint64, err error) {
	sysStat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || sysStat == nil {
		return 0, 0, fmt.Errorf("pidconfig: no syscall.Stat_t for %s", fi.Name())
	}
	return sysStat.Dev, sysStat.Ino, nil
}
