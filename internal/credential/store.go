// Package credential is the engine's credential store (C1): per-account
// secrets in the OS keychain when available, falling back to an encrypted
// user-scoped file. Backend selection is grounded on
// nam-hle-task-management/internal/credential/keyring.go; OAuth refresh
// detection follows the notifyTokenSource wrapper in
// pkg/gmail/service.go of the mail app backend.
package credential

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"

	"mailengine/internal/apperr"
	"mailengine/internal/paths"
)

const serviceName = "mailengine"

// Kind distinguishes the secret slot stored for an account.
type Kind string

const (
	KindOAuthAccess  Kind = "oauth_access"
	KindOAuthRefresh Kind = "oauth_refresh"
	KindAppPassword  Kind = "app_password"
)

// secretRecord stores a secret with its expiry (set for OAuth access tokens)
// so Get can decide whether a refresh is due.
type secretRecord struct {
	Value  string    `json:"value"`
	Expiry time.Time `json:"expiry,omitempty"`
}

// Refresher exchanges a refresh token for a fresh access token + expiry. The
// concrete implementation lives in cmd/engine (googleOAuthRefresher) to avoid
// a dependency cycle; the store only needs the function shape.
type Refresher func(accountID, refreshToken string) (accessToken string, expiry time.Time, err error)

type Store struct {
	mu            sync.Mutex
	ring          keyring.Keyring
	refreshMargin time.Duration
	refresher     Refresher
}

func Open(layout paths.Layout, refreshMargin time.Duration, refresher Refresher) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.FileBackend,
		},
		FileDir:                  layout.Root + "/keyring",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailengine-local"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return &Store{ring: ring, refreshMargin: refreshMargin, refresher: refresher}, nil
}

func key(accountID string, kind Kind) string {
	return accountID + ":" + string(kind)
}

// Put stores a secret for an account. OAuth access tokens may carry an
// expiry; other kinds pass a zero time.
func (s *Store) Put(accountID string, kind Kind, secret string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := secretRecord{Value: secret, Expiry: expiry}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{Key: key(accountID, kind), Data: data}); err != nil {
		return apperr.Wrap(apperr.ErrStorage, "storing credential for %s", accountID)
	}
	return nil
}

// Get retrieves a secret. For KindOAuthAccess, if the stored expiry is within
// the configured safety margin, Get transparently refreshes via the
// configured Refresher and persists the new value before returning it.
func (s *Store) Get(accountID string, kind Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(accountID, kind)
}

func (s *Store) getLocked(accountID string, kind Kind) (string, error) {
	item, err := s.ring.Get(key(accountID, kind))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuthRequired, "no credential for %s/%s", accountID, kind)
	}

	var rec secretRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return "", apperr.Wrap(apperr.ErrStorage, "corrupt credential for %s/%s", accountID, kind)
	}

	if kind != KindOAuthAccess || rec.Expiry.IsZero() {
		return rec.Value, nil
	}

	if time.Until(rec.Expiry) > s.refreshMargin {
		return rec.Value, nil
	}

	return s.refreshLocked(accountID)
}

// RefreshOAuth forces a refresh regardless of the current expiry margin.
func (s *Store) RefreshOAuth(accountID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(accountID)
}

func (s *Store) refreshLocked(accountID string) (string, error) {
	if s.refresher == nil {
		return "", apperr.Wrap(apperr.ErrCredentialExpired, "no refresher configured for %s", accountID)
	}

	refreshItem, err := s.ring.Get(key(accountID, KindOAuthRefresh))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrAuthRequired, "no refresh token for %s", accountID)
	}
	var refreshRec secretRecord
	if err := json.Unmarshal(refreshItem.Data, &refreshRec); err != nil {
		return "", apperr.Wrap(apperr.ErrStorage, "corrupt refresh token for %s", accountID)
	}

	access, expiry, err := s.refresher(accountID, refreshRec.Value)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrCredentialExpired, "refreshing token for %s", accountID)
	}

	rec := secretRecord{Value: access, Expiry: expiry}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.ring.Set(keyring.Item{Key: key(accountID, KindOAuthAccess), Data: data}); err != nil {
		return "", apperr.Wrap(apperr.ErrStorage, "persisting refreshed token for %s", accountID)
	}
	return access, nil
}

// Delete removes the secret of one kind stored for an account. A missing key
// is not an error: sign-out is idempotent.
func (s *Store) Delete(accountID string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Remove(key(accountID, kind)); err != nil && err != keyring.ErrKeyNotFound {
		return apperr.Wrap(apperr.ErrStorage, "deleting credential for %s/%s", accountID, kind)
	}
	return nil
}
