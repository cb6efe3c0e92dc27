//go:build linux

package resource

import "golang.org/x/sys/unix"

// systemMemory reads total and available memory via sysinfo(2). Free memory
// includes reclaimable buffer cache, matching what the kernel would hand out.
func systemMemory() (total, free uint64, ok bool) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, 0, false
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total = uint64(si.Totalram) * unit
	free = (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
	return total, free, true
}
