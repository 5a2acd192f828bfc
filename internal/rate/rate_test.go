package rate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, TPM: 10, MaxTokensPerReq: 5}}, clk)
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "首次应通过")
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}), "应因 RPM 拒绝")

	// 一分钟后补满
	now = now.Add(time.Minute)
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 3}))
}

func TestGatePerRequestCap(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxTokensPerReq: 5}}, nil)
	err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: 6})
	require.ErrorIs(t, err, contract.ErrBudgetExceeded)
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Tokens: 6}))
}

func TestGateBadAsk(t *testing.T) {
	g := NewGate(nil, nil)
	require.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "k"}), contract.ErrInvalidInput)
	require.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Tokens: -1}), contract.ErrInvalidInput)
}

func TestGateUnknownKeyUnlimited(t *testing.T) {
	g := NewGate(nil, nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Wait(context.Background(), Ask{Key: "free", Requests: 1, Tokens: 1000}))
	}
}

func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := g.Wait(ctx, Ask{Key: "k", Requests: 2})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateWaitRefills(t *testing.T) {
	// 600 RPM = 每 100ms 补 1 个
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 600}}, nil)
	for i := 0; i < 600; i++ {
		require.True(t, g.Try(Ask{Key: "k", Requests: 1}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t0 := time.Now()
	require.NoError(t, g.Wait(ctx, Ask{Key: "k", Requests: 1}))
	assert.GreaterOrEqual(t, time.Since(t0), 50*time.Millisecond)
}

func TestGateSnapshot(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 10}}, func() time.Time { return now })
	require.True(t, g.Try(Ask{Key: "k", Requests: 3, Tokens: 50}))
	snap := g.(Snapshoter).Snapshot("k")
	assert.Equal(t, Available{Requests: 7, Tokens: -1}, snap)
}

func TestDeriveKeyFromProviderOptions(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY", "model": "m"})
	k1, err := DeriveKeyFromProviderOptions("openai", raw)
	require.NoError(t, err)
	assert.Contains(t, string(k1), "openai:")

	// 同一凭据不同来源得到同一分组
	k2, err := DeriveKeyFromProviderOptions("openai", json.RawMessage(`{"api_key":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = DeriveKeyFromProviderOptions("openai", json.RawMessage(`{}`))
	require.Error(t, err, "缺少 key 应失败")
}

func TestDeriveKeyGeminiDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-key")
	k, err := DeriveKeyFromProviderOptions("gemini", nil)
	require.NoError(t, err)
	assert.Contains(t, string(k), "gemini:")

	k, err = DeriveKeyFromProviderOptions("mock", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, k)
}
