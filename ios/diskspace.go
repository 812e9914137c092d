// Package ios is a thin interface to the local storage subsystem: free-space
// accounting for the weather array cache directory, grounded on aistore's
// ios.GetFSStats.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package ios

import "golang.org/x/sys/unix"

// FSStats reports block-level usage for the filesystem backing path.
type FSStats struct {
	Blocks     uint64
	Available  uint64
	BlockSizeB int64
}

// GetFSStats statfs(2)'s path, used (through FreeBytes) by the
// warray.Store eviction sweep that runs after a download, to decide
// whether free space is low enough to halve the retained-file budget.
func GetFSStats(path string) (FSStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FSStats{}, err
	}
	return FSStats{
		Blocks:     st.Blocks,
		Available:  st.Bavail,
		BlockSizeB: int64(st.Bsize),
	}, nil
}

// FreeBytes is a convenience wrapper over GetFSStats for callers that only
// care about available capacity.
func FreeBytes(path string) (uint64, error) {
	st, err := GetFSStats(path)
	if err != nil {
		return 0, err
	}
	return st.Available * uint64(st.BlockSizeB), nil
}
