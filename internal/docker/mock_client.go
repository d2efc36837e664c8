package docker

import (
	"context"
	"fmt"
)

// MockClient is a Prober for tests. If EngineInfoFunc is not set,
// EngineInfo fails as if no daemon were running.
//
// MockClientはテスト用のProberです。EngineInfoFuncが設定されていない場合、
// デーモンが動いていないかのようにEngineInfoは失敗します。
type MockClient struct {
	EngineInfoFunc func(ctx context.Context) (*EngineInfo, error)

	// Calls counts EngineInfo invocations.
	Calls int
}

// EngineInfo calls EngineInfoFunc if set.
func (m *MockClient) EngineInfo(ctx context.Context) (*EngineInfo, error) {
	m.Calls++
	if m.EngineInfoFunc != nil {
		return m.EngineInfoFunc(ctx)
	}
	return nil, fmt.Errorf("docker daemon not available")
}

var _ Prober = (*MockClient)(nil)
