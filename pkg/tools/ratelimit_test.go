package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct{ name string }

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "" }
func (s *stubTool) Schema() *Schema     { return &Schema{} }
func (s *stubTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

func TestRateLimiter_AdmitsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1000, 5)
	tool := &stubTool{name: "search"}

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Intercept(context.Background(), tool, nil))
	}
}

func TestRateLimiter_PerToolIsolation(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	a := &stubTool{name: "a"}
	b := &stubTool{name: "b"}

	require.NoError(t, rl.Intercept(context.Background(), a, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, rl.Intercept(ctx, b, nil))
}

func TestRateLimiter_BlocksBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	tool := &stubTool{name: "slow"}

	require.NoError(t, rl.Intercept(context.Background(), tool, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Intercept(ctx, tool, nil))
}
