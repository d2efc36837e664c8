// Package docker reports the state of the local Docker engine for
// get_system_info. It only reads engine metadata; it never touches
// containers.
//
// dockerパッケージはget_system_info用にローカルDockerエンジンの状態を報告します。
// エンジンのメタデータを読み取るだけで、コンテナには一切触れません。
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// probeTimeout bounds one EngineInfo call so an unreachable daemon cannot
// stall a system-info request.
const probeTimeout = 3 * time.Second

// EngineInfo is the engine summary included in system info.
// EngineInfoはシステム情報に含まれるエンジンの概要です。
type EngineInfo struct {
	Version           string `json:"version"`
	APIVersion        string `json:"apiVersion"`
	OS                string `json:"os"`
	Arch              string `json:"arch"`
	KernelVersion     string `json:"kernelVersion,omitempty"`
	Containers        int    `json:"containers"`
	ContainersRunning int    `json:"containersRunning"`
	Images            int    `json:"images"`
}

// Client wraps the Docker SDK client.
// ClientはDocker SDKクライアントをラップします。
type Client struct {
	docker *client.Client
}

// NewClient creates a client from the environment (DOCKER_HOST,
// DOCKER_API_VERSION, ...). Creating the client does not contact the
// daemon; a missing daemon surfaces on the first EngineInfo call.
//
// NewClientは環境変数（DOCKER_HOST、DOCKER_API_VERSIONなど）からクライアントを作成します。
// 作成時にデーモンへは接続しません。デーモンが無い場合は最初のEngineInfo呼び出しで判明します。
func NewClient() (*Client, error) {
	return newClient(client.FromEnv, client.WithAPIVersionNegotiation())
}

func newClient(opts ...client.Opt) (*Client, error) {
	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{docker: dockerClient}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.docker.Close()
}

// EngineInfo queries the daemon's version and counters.
// EngineInfoはデーモンのバージョンとカウンタを問い合わせます。
func (c *Client) EngineInfo(ctx context.Context) (*EngineInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	version, err := c.docker.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get docker version: %w", err)
	}
	info, err := c.docker.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get docker info: %w", err)
	}

	return &EngineInfo{
		Version:           version.Version,
		APIVersion:        version.APIVersion,
		OS:                version.Os,
		Arch:              version.Arch,
		KernelVersion:     version.KernelVersion,
		Containers:        info.Containers,
		ContainersRunning: info.ContainersRunning,
		Images:            info.Images,
	}, nil
}

// Prober is the read-only engine view used by the gateway.
// Proberはゲートウェイが使用する読み取り専用のエンジンビューです。
type Prober interface {
	EngineInfo(ctx context.Context) (*EngineInfo, error)
}

// Verify that Client implements Prober at compile time.
// コンパイル時にClientがProberを実装していることを検証します。
var _ Prober = (*Client)(nil)
