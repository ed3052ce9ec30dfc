//go:build linux

package backlog

import (
	"os"
	"syscall"
)

// changeTime returns the inode change time in Unix seconds, used to order
// reclaim eviction oldest-first. Falls back to ModTime if the underlying
// stat_t isn't available.
func changeTime(info os.FileInfo) int64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime().Unix()
	}
	return stat.Ctim.Sec
}
