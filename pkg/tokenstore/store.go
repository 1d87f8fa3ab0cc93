package tokenstore

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/observastack/observastack/pkg/metrics"
)

const (
	// DefaultKey is the storage key holding the serialized bundle.
	DefaultKey = "observastack_tokens"
	// RefreshMargin is the window before expiry in which a token is treated as
	// needing refresh rather than valid.
	RefreshMargin = 30 * time.Second
)

// Bundle is the credential bundle issued by the local backend.
type Bundle struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	// StoredAt is the epoch milliseconds of the store operation that persisted
	// the bundle. It is stamped by SetTokens and never changed afterwards.
	StoredAt int64 `json:"stored_at"`
}

// ExpiresAt returns the instant the access token expires.
func (b Bundle) ExpiresAt() time.Time {
	return time.UnixMilli(b.StoredAt + b.ExpiresIn*1000)
}

// Store manages one Bundle in a Storage backend. It is safe for concurrent use.
type Store struct {
	storage Storage
	key     string
	now     func() time.Time
	log     *zap.SugaredLogger

	mu sync.Mutex
}

type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithClock overrides the time source used for stamping and expiry math.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func New(storage Storage, opts ...Option) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Store{
		storage: storage,
		key:     DefaultKey,
		now:     time.Now,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "tokenstore", "key", s.key)
	return s
}

// SetTokens stamps the bundle with the current time, overwrites the stored
// entry and returns the stamped bundle. Write failures are logged and
// absorbed; callers must not assume the bundle was persisted.
func (s *Store) SetTokens(bundle Bundle) Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()

	bundle.StoredAt = s.now().UnixMilli()
	content, err := json.Marshal(bundle)
	if err != nil {
		s.log.Errorw("failed to serialize credential bundle", "error", err)
		metrics.TokenStoreWriteFailures.Inc()
		return bundle
	}
	if err := s.storage.Set(s.key, string(content)); err != nil {
		s.log.Errorw("failed to persist credential bundle", "error", err)
		metrics.TokenStoreWriteFailures.Inc()
		return bundle
	}
	s.log.Debugw("stored credential bundle", "expiresIn", bundle.ExpiresIn)
	return bundle
}

// GetTokens returns the stored bundle. An absent, unreadable, corrupt or
// expired entry yields false; corrupt and expired entries are removed.
func (s *Store) GetTokens() (Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Bundle, bool) {
	raw, err := s.storage.Get(s.key)
	switch {
	case errors.Is(err, ErrCorrupt):
		s.log.Warnw("discarding corrupt credential storage", "error", err)
		s.clearLocked()
		return Bundle{}, false
	case errors.Is(err, ErrNotFound):
		return Bundle{}, false
	case err != nil:
		s.log.Warnw("failed to read credential bundle", "error", err)
		return Bundle{}, false
	}
	var bundle Bundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		s.log.Warnw("discarding corrupt credential bundle", "error", err)
		s.clearLocked()
		return Bundle{}, false
	}
	if s.now().UnixMilli()-bundle.StoredAt > bundle.ExpiresIn*1000 {
		s.log.Debugw("discarding expired credential bundle")
		s.clearLocked()
		return Bundle{}, false
	}
	return bundle, true
}

// remaining returns the bundle and its time to expiry.
func (s *Store) remaining() (Bundle, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bundle, ok := s.loadLocked()
	if !ok {
		return Bundle{}, 0, false
	}
	return bundle, bundle.ExpiresAt().Sub(s.now()), true
}

// HasValidTokens reports whether a bundle is present and outlives the refresh margin.
func (s *Store) HasValidTokens() bool {
	_, left, ok := s.remaining()
	return ok && left > RefreshMargin
}

// NeedsRefresh reports whether a bundle is present but within the refresh margin.
func (s *Store) NeedsRefresh() bool {
	_, left, ok := s.remaining()
	return ok && left <= RefreshMargin
}

// AccessToken returns the access token if HasValidTokens holds.
func (s *Store) AccessToken() (string, bool) {
	bundle, left, ok := s.remaining()
	if !ok || left <= RefreshMargin || bundle.AccessToken == "" {
		return "", false
	}
	return bundle.AccessToken, true
}

// RefreshToken returns the refresh token of a present bundle, regardless of
// the access token's margin.
func (s *Store) RefreshToken() (string, bool) {
	bundle, ok := s.GetTokens()
	if !ok || bundle.RefreshToken == "" {
		return "", false
	}
	return bundle.RefreshToken, true
}

// TimeUntilExpiry returns the remaining lifetime truncated to whole seconds,
// or zero when no bundle is present.
func (s *Store) TimeUntilExpiry() time.Duration {
	_, left, ok := s.remaining()
	if !ok || left <= 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// ClearTokens removes the stored entry unconditionally.
func (s *Store) ClearTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	if err := s.storage.Delete(s.key); err != nil {
		s.log.Warnw("failed to clear credential bundle", "error", err)
	}
}
