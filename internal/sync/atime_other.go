//go:build !linux

package sync

import (
	"os"
	"time"
)

func accessTime(_ os.FileInfo, fallback time.Time) time.Time {
	return fallback
}
