//go:build windows

package services

// repairCacheOwnership is a no-op on Windows: NTFS ACL repair needs a
// different primitive than POSIX chown and no deployment in this repo's
// target environments has needed it yet (§4.2 step 5).
func repairCacheOwnership() {}
