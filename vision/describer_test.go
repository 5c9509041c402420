package vision

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/internal/cache"
	"github.com/BaSui01/narraflow/llm"
	"github.com/BaSui01/narraflow/llm/retry"
	"github.com/BaSui01/narraflow/types"
)

type stubProvider struct {
	name     string
	calls    atomic.Int32
	response *llm.ChatResponse
	errs     []error // consumed per call; nil entry means use response
}

func (s *stubProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if s.response != nil {
		return s.response, nil
	}
	return &llm.ChatResponse{Provider: s.name, Model: "stub-model", Text: "描述文本"}, nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (s *stubProvider) Name() string { return s.name }

func fastPolicy(maxAttempts int) *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Retryable:    types.IsRetryable,
	}
}

func testBatch(index, frames int) types.FrameBatch {
	b := types.FrameBatch{Index: index}
	for i := 0; i < frames; i++ {
		b.Frames = append(b.Frames, types.Frame{
			Index:     index*frames + i,
			Timestamp: time.Duration(index*frames+i) * 3 * time.Second,
			Data:      []byte{0xFF, 0xD8, 0xFF, byte(i)},
			MIME:      "image/jpeg",
		})
	}
	return b
}

func TestDescribeSuccess(t *testing.T) {
	t.Parallel()

	p := &stubProvider{name: "gemini"}
	d := NewDescriber(p, fastPolicy(3), Config{Model: "gemini-2.0-flash"}, zap.NewNop())

	desc := d.Describe(context.Background(), testBatch(2, 3))

	assert.True(t, desc.Success)
	assert.Equal(t, "描述文本", desc.Text)
	assert.Equal(t, 2, desc.BatchIndex)
	assert.Equal(t, "gemini", desc.Provider)
	assert.Equal(t, "stub-model", desc.Model)
	assert.Equal(t, 1, desc.Attempts)
	assert.Equal(t, 18*time.Second, desc.StartOffset)
	assert.Equal(t, 24*time.Second, desc.EndOffset)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestDescribeRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	rateLimited := types.NewError(types.ErrProviderRateLimited, "slow down").WithRetryable(true)
	p := &stubProvider{name: "qwenvl", errs: []error{rateLimited, rateLimited}}
	d := NewDescriber(p, fastPolicy(3), Config{}, zap.NewNop())

	desc := d.Describe(context.Background(), testBatch(0, 2))

	assert.True(t, desc.Success)
	assert.Equal(t, 3, desc.Attempts)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestDescribeFailureCaptured(t *testing.T) {
	t.Parallel()

	rateLimited := types.NewError(types.ErrProviderRateLimited, "slow down").WithRetryable(true)
	p := &stubProvider{name: "qwenvl", errs: []error{rateLimited, rateLimited, rateLimited}}
	d := NewDescriber(p, fastPolicy(3), Config{}, zap.NewNop())

	desc := d.Describe(context.Background(), testBatch(1, 2))

	assert.False(t, desc.Success)
	assert.Equal(t, types.ErrProviderRateLimited, desc.ErrorCode)
	assert.NotEmpty(t, desc.Error)
	assert.Equal(t, 3, desc.Attempts)
	assert.Equal(t, 1, desc.BatchIndex)
}

func TestDescribeNonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	authErr := types.NewError(types.ErrProviderAuth, "bad key")
	p := &stubProvider{name: "gemini", errs: []error{authErr, authErr, authErr}}
	d := NewDescriber(p, fastPolicy(3), Config{}, zap.NewNop())

	desc := d.Describe(context.Background(), testBatch(0, 1))

	assert.False(t, desc.Success)
	assert.Equal(t, types.ErrProviderAuth, desc.ErrorCode)
	assert.Equal(t, 1, desc.Attempts)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestDescribeCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &stubProvider{name: "gemini", errs: []error{context.Canceled}}
	d := NewDescriber(p, fastPolicy(3), Config{}, zap.NewNop())

	desc := d.Describe(ctx, testBatch(0, 1))

	assert.False(t, desc.Success)
	assert.Equal(t, types.ErrRunCancelled, desc.ErrorCode)
}

func TestDescribeCacheRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	p := &stubProvider{name: "gemini"}
	d := NewDescriber(p, fastPolicy(3), Config{Model: "gemini-2.0-flash"}, zap.NewNop()).WithCache(manager)

	batch := testBatch(0, 2)

	first := d.Describe(context.Background(), batch)
	require.True(t, first.Success)
	assert.Equal(t, int32(1), p.calls.Load())

	// Identical batch resolves from cache without another provider call.
	second := d.Describe(context.Background(), batch)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), p.calls.Load())

	// A different batch misses.
	third := d.Describe(context.Background(), testBatch(1, 2))
	assert.True(t, third.Success)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestDescribeFailureNotCached(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	manager, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	authErr := types.NewError(types.ErrProviderAuth, "bad key")
	p := &stubProvider{name: "gemini", errs: []error{authErr}}
	d := NewDescriber(p, fastPolicy(3), Config{}, zap.NewNop()).WithCache(manager)

	batch := testBatch(0, 1)

	first := d.Describe(context.Background(), batch)
	require.False(t, first.Success)

	// Failure was not stored; the next call reaches the provider again.
	second := d.Describe(context.Background(), batch)
	assert.True(t, second.Success)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestBuildRequestShape(t *testing.T) {
	t.Parallel()

	d := NewDescriber(&stubProvider{name: "gemini"}, fastPolicy(1), Config{
		Model:       "gemini-2.0-flash",
		MaxTokens:   1024,
		Temperature: 0.4,
	}, zap.NewNop())

	batch := testBatch(1, 3)
	req := d.buildRequest(batch)

	assert.Equal(t, "gemini-2.0-flash", req.Model)
	require.Len(t, req.Messages, 1)

	parts := req.Messages[0].Parts
	require.Len(t, parts, 4)
	assert.Equal(t, llm.PartTypeText, parts[0].Type)
	assert.Contains(t, parts[0].Text, DefaultPrompt)
	assert.Contains(t, parts[0].Text, "00:09")
	assert.Contains(t, parts[0].Text, "00:15")
	for _, p := range parts[1:] {
		assert.Equal(t, llm.PartTypeImage, p.Type)
		assert.Equal(t, "image/jpeg", p.MIME)
		assert.NotEmpty(t, p.Data)
	}
}
