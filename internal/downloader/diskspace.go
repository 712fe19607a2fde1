package downloader

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freePercentAfter reports the percentage of a filesystem that would
// remain free after deducting extraBytes, for the disk-space admission
// checks that gate each download attempt. golang.org/x/sys/unix is the
// idiomatic way to call statfs(2) from Go.
func freePercentAfter(path string, extraBytes int64) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs %s: reported zero total blocks", path)
	}

	if extraBytes > 0 {
		deduct := uint64(extraBytes)
		if deduct > free {
			free = 0
		} else {
			free -= deduct
		}
	}

	return float64(free) / float64(total) * 100, nil
}
