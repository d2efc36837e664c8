//go:build linux

package gateway

import (
	"golang.org/x/sys/unix"
)

// hostStats holds the kernel-provided facts that have no portable API.
type hostStats struct {
	release string
	uptime  int64
	load    []float64
}

// Sysinfo load averages are fixed point with SI_LOAD_SHIFT (16) fraction bits.
const loadScale = 1 << 16

func readHostStats() hostStats {
	var s hostStats

	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		s.release = unix.ByteSliceToString(u.Release[:])
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil {
		s.uptime = int64(si.Uptime)
		s.load = []float64{
			float64(si.Loads[0]) / loadScale,
			float64(si.Loads[1]) / loadScale,
			float64(si.Loads[2]) / loadScale,
		}
	}
	return s
}
