package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/narraflow/types"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Provider: s.name, Model: req.Model, Text: "ok"}, nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (s *stubProvider) Name() string { return s.name }

func countingConstructor(calls *int) Constructor {
	return func(profile ProviderProfile) (Provider, error) {
		*calls++
		return &stubProvider{name: profile.ID}, nil
	}
}

func TestRegistry_ResolveUnknownProvider(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "gemini", Role: types.RoleVision, APIKey: "k", Model: "gemini-2.0-flash"})

	_, err := r.Resolve(types.RoleVision, "nonexistent")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownProvider, types.GetErrorCode(err))
	assert.Zero(t, calls)
}

func TestRegistry_ResolveNotConfigured(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "gemini", Role: types.RoleVision, APIKey: "", Model: "gemini-2.0-flash"})

	_, err := r.Resolve(types.RoleVision, "gemini")
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderNotConfigured, types.GetErrorCode(err))
	// The constructor never ran: an unconfigured profile fails before any
	// adapter (and thus any network client) is built.
	assert.Zero(t, calls)
}

func TestRegistry_ResolveMemoizesConstruction(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "deepseek", Role: types.RoleText, APIKey: "k", Model: "deepseek-chat"})

	p1, err := r.Resolve(types.RoleText, "deepseek")
	require.NoError(t, err)
	p2, err := r.Resolve(types.RoleText, "deepseek")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
}

func TestRegistry_RolesAreIndependent(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "gemini", Role: types.RoleVision, APIKey: "k", Model: "gemini-2.0-flash"})

	_, err := r.Resolve(types.RoleText, "gemini")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownProvider, types.GetErrorCode(err))

	_, err = r.Resolve(types.RoleVision, "gemini")
	assert.NoError(t, err)
}

func TestRegistry_ListConfigured(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "qwenvl", Role: types.RoleVision, APIKey: "k1", Model: "qwen-vl-max-latest"})
	r.Register(ProviderProfile{ID: "gemini", Role: types.RoleVision, APIKey: "k2", Model: "gemini-2.0-flash"})
	r.Register(ProviderProfile{ID: "siliconflow", Role: types.RoleVision, APIKey: "", Model: "Qwen/Qwen2-VL-72B-Instruct"})
	r.Register(ProviderProfile{ID: "deepseek", Role: types.RoleText, APIKey: "k3", Model: "deepseek-chat"})

	got := r.ListConfigured(types.RoleVision)
	require.Len(t, got, 2)
	assert.Equal(t, "gemini", got[0].ID)
	assert.Equal(t, "qwenvl", got[1].ID)

	assert.Len(t, r.ListConfigured(types.RoleText), 1)
	assert.Equal(t, 4, r.Len())
}

func TestRegistry_RegisterReplacesAndInvalidates(t *testing.T) {
	calls := 0
	r := NewProviderRegistry(countingConstructor(&calls))
	r.Register(ProviderProfile{ID: "qwen", Role: types.RoleText, APIKey: "k", Model: "qwen-plus"})

	_, err := r.Resolve(types.RoleText, "qwen")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// Re-registering the profile drops the memoized adapter.
	r.Register(ProviderProfile{ID: "qwen", Role: types.RoleText, APIKey: "k2", Model: "qwen-max"})
	_, err = r.Resolve(types.RoleText, "qwen")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
