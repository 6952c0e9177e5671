//go:build linux

package sync

import (
	"os"
	"syscall"
	"time"
)

// accessTime returns the last access time of info, or fallback when the
// platform does not expose it.
func accessTime(info os.FileInfo, fallback time.Time) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fallback
	}
	return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)) //nolint:unconvert // 32-bit platforms
}
