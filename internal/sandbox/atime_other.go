//go:build !linux

package sandbox

import (
	"os"
	"time"
)

func accessOrModTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
