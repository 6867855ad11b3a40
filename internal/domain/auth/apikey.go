// Package auth authenticates API clients by HMAC-hashed API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeCreateOrder = "create_order"
	ScopeReadReports = "read_reports"
)

var (
	// ErrKeyNotFound is returned by repositories for unknown or revoked keys.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for any failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable is matched by lookup failures other than
	// ErrKeyNotFound.
	ErrStoreUnavailable = errors.New("api key store unavailable")
)

// StoreError wraps a repository failure during authentication.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string {
	return ErrStoreUnavailable.Error() + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrStoreUnavailable as a match.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator checks API keys against a Repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate resolves key to its info and checks that it carries scope.
// Unknown keys yield ErrUnauthorized; repository failures yield a
// *StoreError.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, &StoreError{Err: err}
	}

	// The stored hash must match byte for byte even after a successful lookup.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	if !info.HasScope(scope) {
		return nil, ErrForbidden
	}
	return info, nil
}
