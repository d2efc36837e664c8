//go:build !linux

package gateway

type hostStats struct {
	release string
	uptime  int64
	load    []float64
}

// readHostStats has no portable source for these values outside Linux.
func readHostStats() hostStats {
	return hostStats{}
}
