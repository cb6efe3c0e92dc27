//go:build !linux

package resource

// systemMemory has no portable implementation off Linux; the monitor
// degrades to empty snapshots with pressure never reported.
func systemMemory() (total, free uint64, ok bool) {
	return 0, 0, false
}
