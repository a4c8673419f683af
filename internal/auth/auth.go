// Package auth holds session identity: bearer/refresh tokens and the current
// user record, persisted through the kv store. Legacy storage keys from
// earlier client builds are still honored on read.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/taxipool/internal/kv"
)

const (
	accessTokenKey  = "auth_token"
	refreshTokenKey = "auth_refresh_token"
	currentUserKey  = "gogotaxi_user"

	// legacy keys, read-only fallbacks
	legacyAccessTokenKey = "accessToken"
	legacyTokenKey       = "gogotaxi_token"
	legacyUserKey        = "auth_user"
)

// GuestKey partitions unauthenticated state in the membership buckets.
const GuestKey = "guest"

// User is the session identity record.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Vault reads and writes session identity on top of a kv.Store.
type Vault struct {
	store kv.Store
}

func NewVault(store kv.Store) *Vault {
	return &Vault{store: store}
}

// AccessToken returns the bearer token, trying current then legacy keys.
func (v *Vault) AccessToken(ctx context.Context) (string, error) {
	for _, key := range []string{accessTokenKey, legacyAccessTokenKey, legacyTokenKey} {
		val, ok, err := v.store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(val) != "" {
			return val, nil
		}
	}
	return "", nil
}

func (v *Vault) RefreshToken(ctx context.Context) (string, error) {
	val, _, err := v.store.Get(ctx, refreshTokenKey)
	return val, err
}

// SetTokens stores the access token and, when non-empty, the refresh token.
func (v *Vault) SetTokens(ctx context.Context, access, refresh string) error {
	if access != "" {
		if err := v.store.Set(ctx, accessTokenKey, access); err != nil {
			return err
		}
	}
	if refresh != "" {
		if err := v.store.Set(ctx, refreshTokenKey, refresh); err != nil {
			return err
		}
	}
	return nil
}

// ClearTokens removes every token key, current and legacy.
func (v *Vault) ClearTokens(ctx context.Context) error {
	for _, key := range []string{accessTokenKey, refreshTokenKey, legacyAccessTokenKey, legacyTokenKey} {
		if err := v.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// CurrentUser returns the stored user, or nil when unauthenticated.
func (v *Vault) CurrentUser(ctx context.Context) (*User, error) {
	for _, key := range []string{currentUserKey, legacyUserKey} {
		raw, ok, err := v.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if user := parseUser(raw); user != nil {
			return user, nil
		}
	}
	return nil, nil
}

func (v *Vault) SetCurrentUser(ctx context.Context, user User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return v.store.Set(ctx, currentUserKey, string(raw))
}

func (v *Vault) ClearCurrentUser(ctx context.Context) error {
	for _, key := range []string{currentUserKey, legacyUserKey} {
		if err := v.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// UserKey derives the bucket partition key for the current identity:
// the user id, or GuestKey when no user is stored.
func (v *Vault) UserKey(ctx context.Context) string {
	user, err := v.CurrentUser(ctx)
	if err != nil || user == nil || user.ID == "" {
		return GuestKey
	}
	return user.ID
}

// parseUser tolerates both string and numeric ids in stored payloads.
func parseUser(raw string) *User {
	var probe struct {
		ID     any    `json:"id"`
		Name   string `json:"name"`
		Gender string `json:"gender"`
		Phone  string `json:"phone"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil
	}
	var id string
	switch v := probe.ID.(type) {
	case string:
		id = v
	case float64:
		id = strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
	default:
		return nil
	}
	if id == "" {
		return nil
	}
	return &User{ID: id, Name: probe.Name, Gender: probe.Gender, Phone: probe.Phone}
}
