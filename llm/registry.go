package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/narraflow/types"
)

// ProviderProfile is one configured backend for one role. A profile with
// an empty APIKey is registered but unusable; resolving it fails before
// any network call is made.
type ProviderProfile struct {
	ID      string     `json:"id"`
	Role    types.Role `json:"role"`
	APIKey  string     `json:"-"`
	BaseURL string     `json:"base_url,omitempty"`
	Model   string     `json:"model"`
}

// Configured reports whether the profile carries an API key.
func (p ProviderProfile) Configured() bool {
	return p.APIKey != ""
}

// Constructor builds a ready-to-use Provider from a profile. The registry
// invokes it lazily, only for configured profiles.
type Constructor func(profile ProviderProfile) (Provider, error)

// ProviderRegistry is a thread-safe lookup from (role, provider id) to a
// Provider. Profiles are registered once at startup; provider construction
// is lazy and memoized so a run resolves its providers exactly once.
type ProviderRegistry struct {
	mu        sync.RWMutex
	profiles  map[types.Role]map[string]ProviderProfile
	providers map[string]Provider
	build     Constructor
}

// NewProviderRegistry creates an empty registry backed by the given
// constructor.
func NewProviderRegistry(build Constructor) *ProviderRegistry {
	return &ProviderRegistry{
		profiles:  make(map[types.Role]map[string]ProviderProfile),
		providers: make(map[string]Provider),
		build:     build,
	}
}

// Register adds a profile under its role. An existing profile with the
// same role and id is replaced.
func (r *ProviderRegistry) Register(profile ProviderProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.profiles[profile.Role]
	if !ok {
		byID = make(map[string]ProviderProfile)
		r.profiles[profile.Role] = byID
	}
	byID[profile.ID] = profile
	delete(r.providers, providerKey(profile.Role, profile.ID))
}

// Resolve returns the provider registered for (role, id). It fails with
// UNKNOWN_PROVIDER when the id is not registered for the role, and with
// PROVIDER_NOT_CONFIGURED when the profile has an empty API key. No
// network traffic happens here; construction only wires the adapter.
func (r *ProviderRegistry) Resolve(role types.Role, id string) (Provider, error) {
	r.mu.RLock()
	profile, ok := r.profiles[role][id]
	if ok {
		if p, built := r.providers[providerKey(role, id)]; built {
			r.mu.RUnlock()
			return p, nil
		}
	}
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewError(types.ErrUnknownProvider,
			fmt.Sprintf("provider %q is not registered for role %s", id, role)).
			WithProvider(id)
	}
	if !profile.Configured() {
		return nil, types.NewError(types.ErrProviderNotConfigured,
			fmt.Sprintf("provider %q has an empty api key", id)).
			WithProvider(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := providerKey(role, id)
	if p, built := r.providers[key]; built {
		return p, nil
	}
	p, err := r.build(profile)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidConfig,
			fmt.Sprintf("build provider %q", id), err).WithProvider(id)
	}
	r.providers[key] = p
	return p, nil
}

// ListConfigured returns the profiles for a role that carry a non-empty
// API key, sorted by id. It supports a "pick any available" fallback
// strategy.
func (r *ProviderRegistry) ListConfigured(role types.Role) []ProviderProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderProfile, 0, len(r.profiles[role]))
	for _, profile := range r.profiles[role] {
		if profile.Configured() {
			out = append(out, profile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Profile returns the registered profile for (role, id).
func (r *ProviderRegistry) Profile(role types.Role, id string) (ProviderProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[role][id]
	return profile, ok
}

// Len returns the number of registered profiles across all roles.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byID := range r.profiles {
		n += len(byID)
	}
	return n
}

func providerKey(role types.Role, id string) string {
	return string(role) + "/" + id
}
