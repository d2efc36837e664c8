package gateway

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/user"
	"runtime"

	"github.com/docker/go-units"
	"github.com/pbnjay/memory"

	"github.com/YujiSuzuki/hostgate/internal/docker"
)

// DockerProbe reports the local Docker engine, if one is reachable.
// DockerProbeは到達可能であればローカルDockerエンジンを報告します。
type DockerProbe interface {
	EngineInfo(ctx context.Context) (*docker.EngineInfo, error)
}

// SystemInfo is the get_system_info result.
// SystemInfoはget_system_infoの結果です。
type SystemInfo struct {
	Platform    string             `json:"platform"`
	Arch        string             `json:"arch"`
	Release     string             `json:"release,omitempty"`
	Hostname    string             `json:"hostname"`
	CPUs        int                `json:"cpus"`
	Memory      MemoryInfo         `json:"memory"`
	Uptime      int64              `json:"uptime,omitempty"`
	LoadAverage []float64          `json:"loadavg,omitempty"`
	User        *UserInfo          `json:"user,omitempty"`
	Network     []NetworkInterface `json:"networkInterfaces"`
	Docker      *docker.EngineInfo `json:"docker,omitempty"`
}

// MemoryInfo holds byte counts plus human-readable forms.
type MemoryInfo struct {
	Total      uint64 `json:"total"`
	Free       uint64 `json:"free"`
	TotalHuman string `json:"totalHuman"`
	FreeHuman  string `json:"freeHuman"`
}

// UserInfo describes the account the server runs as.
type UserInfo struct {
	Username string `json:"username"`
	UID      string `json:"uid"`
	GID      string `json:"gid"`
	HomeDir  string `json:"homedir"`
}

// NetworkInterface is one host interface with its addresses.
type NetworkInterface struct {
	Name      string   `json:"name"`
	MAC       string   `json:"mac,omitempty"`
	Addresses []string `json:"addresses"`
	Up        bool     `json:"up"`
	Loopback  bool     `json:"loopback"`
}

// CollectSystemInfo gathers host facts. Every source is best effort: a
// failing source leaves its field empty instead of failing the whole call.
//
// CollectSystemInfoはホストの情報を収集します。各情報源はベストエフォートで、
// 失敗した情報源は呼び出し全体を失敗させずにそのフィールドを空のままにします。
func (g *Gateway) CollectSystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUs:     runtime.NumCPU(),
		Network:  []NetworkInterface{},
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	total, free := memory.TotalMemory(), memory.FreeMemory()
	info.Memory = MemoryInfo{
		Total:      total,
		Free:       free,
		TotalHuman: units.BytesSize(float64(total)),
		FreeHuman:  units.BytesSize(float64(free)),
	}

	stats := readHostStats()
	info.Release = stats.release
	info.Uptime = stats.uptime
	info.LoadAverage = stats.load

	if u, err := user.Current(); err == nil {
		info.User = &UserInfo{Username: u.Username, UID: u.Uid, GID: u.Gid, HomeDir: u.HomeDir}
	}

	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			ni := NetworkInterface{
				Name:      iface.Name,
				MAC:       iface.HardwareAddr.String(),
				Addresses: []string{},
				Up:        iface.Flags&net.FlagUp != 0,
				Loopback:  iface.Flags&net.FlagLoopback != 0,
			}
			if addrs, err := iface.Addrs(); err == nil {
				for _, a := range addrs {
					ni.Addresses = append(ni.Addresses, a.String())
				}
			}
			info.Network = append(info.Network, ni)
		}
	}

	if g.docker != nil {
		engine, err := g.docker.EngineInfo(ctx)
		if err != nil {
			slog.Debug("Docker engine not available", "error", err)
		} else {
			info.Docker = engine
		}
	}

	return info
}

func (g *Gateway) getSystemInfo(ctx context.Context, _ Args) Outcome {
	return jsonOutcome(g.CollectSystemInfo(ctx))
}
