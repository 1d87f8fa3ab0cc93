package keycloak

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/observastack/observastack/pkg/tokenstore"
)

// DefaultStorageKey is the storage key of the persisted federated session.
const DefaultStorageKey = "observastack_federated_session"

type session struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	IDToken       string    `json:"id_token,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	Expiry        time.Time `json:"expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry,omitempty"`
}

// validFor reports whether the access token outlives d.
func (s *session) validFor(now time.Time, d time.Duration) bool {
	return s != nil && s.AccessToken != "" && s.Expiry.Sub(now) > d
}

func (s *session) canRefresh(now time.Time) bool {
	if s == nil || s.RefreshToken == "" {
		return false
	}
	return s.RefreshExpiry.IsZero() || s.RefreshExpiry.After(now)
}

func loadSession(storage tokenstore.Storage, key string) (*session, error) {
	raw, err := storage.Get(key)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var s session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		_ = storage.Delete(key)
		return nil, nil
	}
	return &s, nil
}

func saveSession(storage tokenstore.Storage, key string, s *session) error {
	content, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return storage.Set(key, string(content))
}
