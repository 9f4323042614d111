package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

const attrUserSettings = "settings:user"

// ErrUnknownProvider reports a provider key nobody registered.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// Registry holds every configured provider and answers which of them
// apply site-wide, per user, and right now. Registration is explicit at
// startup.
type Registry struct {
	byKey   map[string]Provider
	ordered []Provider
	allow   store.AllowList
	attrs   store.Attributes
}

func NewRegistry(allow store.AllowList, attrs store.Attributes) *Registry {
	return &Registry{
		byKey: make(map[string]Provider),
		allow: allow,
		attrs: attrs,
	}
}

// Register adds a provider. Duplicate keys are a configuration bug.
func (r *Registry) Register(p Provider) error {
	if _, dup := r.byKey[p.Key()]; dup {
		return fmt.Errorf("provider: duplicate key %q", p.Key())
	}
	r.byKey[p.Key()] = p
	r.ordered = append(r.ordered, p)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority() < r.ordered[j].Priority()
	})
	return nil
}

// Get returns the provider registered under key.
func (r *Registry) Get(key string) (Provider, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// All returns every registered provider in ascending priority order.
func (r *Registry) All() []Provider {
	return slices.Clone(r.ordered)
}

// EnabledSystemWide returns the providers the site allows, seeding the
// allow-list with every registered key on first run.
func (r *Registry) EnabledSystemWide(ctx context.Context) ([]Provider, error) {
	keys, err := r.allow.Get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		all := make([]string, len(r.ordered))
		for i, p := range r.ordered {
			all[i] = p.Key()
		}
		keys, err = r.allow.SetIfAbsent(ctx, all)
	}
	if err != nil {
		return nil, err
	}

	enabled := make([]Provider, 0, len(keys))
	for _, p := range r.ordered {
		if slices.Contains(keys, p.Key()) {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// EnabledForUser intersects the user's own enabled set with the site
// allow-list. A user who enabled nothing has two-factor off.
func (r *Registry) EnabledForUser(ctx context.Context, userID string) ([]Provider, error) {
	siteWide, err := r.EnabledSystemWide(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := r.userSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	enabled := make([]Provider, 0, len(siteWide))
	for _, p := range siteWide {
		if slices.Contains(settings.EnabledProviders, p.Key()) {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// AvailableForUser filters the enabled set down to providers the user
// can actually complete a login with right now.
func (r *Registry) AvailableForUser(ctx context.Context, userID string) ([]Provider, error) {
	enabled, err := r.EnabledForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	available := make([]Provider, 0, len(enabled))
	for _, p := range enabled {
		ok, err := p.IsAvailable(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("provider %q availability: %w", p.Key(), err)
		}
		if ok {
			available = append(available, p)
		}
	}
	return available, nil
}

// PrimaryForUser picks the provider the login flow should lead with:
// the user's preference when it is available, otherwise the available
// provider with the lowest priority value. Nil when none are available.
func (r *Registry) PrimaryForUser(ctx context.Context, userID string) (Provider, error) {
	available, err := r.AvailableForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	settings, err := r.userSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings.Primary != "" {
		for _, p := range available {
			if p.Key() == settings.Primary {
				return p, nil
			}
		}
	}
	return available[0], nil
}

// SetEnabledProviders stores the user's enabled set, silently dropping
// keys nobody registered.
func (r *Registry) SetEnabledProviders(ctx context.Context, userID string, keys []string) error {
	settings, err := r.userSettings(ctx, userID)
	if err != nil {
		return err
	}

	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := r.byKey[k]; ok && !slices.Contains(filtered, k) {
			filtered = append(filtered, k)
		}
	}
	settings.EnabledProviders = filtered

	return r.saveUserSettings(ctx, userID, settings)
}

// SetPrimaryPreference stores the user's preferred provider. Empty
// clears the preference; anything else must be a registered key.
func (r *Registry) SetPrimaryPreference(ctx context.Context, userID, key string) error {
	if key != "" {
		if _, ok := r.byKey[key]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProvider, key)
		}
	}

	settings, err := r.userSettings(ctx, userID)
	if err != nil {
		return err
	}
	settings.Primary = key

	return r.saveUserSettings(ctx, userID, settings)
}

// UserSettings returns the stored per-user configuration.
func (r *Registry) UserSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	return r.userSettings(ctx, userID)
}

func (r *Registry) userSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	raw, err := r.attrs.Get(ctx, userID, attrUserSettings)
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserSettings{}, nil
	}
	if err != nil {
		return domain.UserSettings{}, err
	}

	var settings domain.UserSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.UserSettings{}, err
	}
	return settings, nil
}

func (r *Registry) saveUserSettings(ctx context.Context, userID string, settings domain.UserSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return r.attrs.Set(ctx, userID, attrUserSettings, raw)
}
