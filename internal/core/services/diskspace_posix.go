//go:build !windows

package services

import "syscall"

// freeDiskBytes reports free space at path's filesystem (§4.2 step 5).
func freeDiskBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
