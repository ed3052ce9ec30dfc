//go:build !linux

package backlog

import "os"

// changeTime falls back to ModTime on platforms without a portable ctime
// accessor; reclaim ordering degrades gracefully to mtime-oldest-first.
func changeTime(info os.FileInfo) int64 {
	return info.ModTime().Unix()
}
