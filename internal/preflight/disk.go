package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/bibsearch/internal/ui"
)

// MinDiskSpaceBytes is the free space below which indexing is refused.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)", ui.FormatBytes(available), ui.FormatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}
