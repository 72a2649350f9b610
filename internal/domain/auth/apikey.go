// Package auth authenticates admin API keys. Keys are never stored in clear:
// the store holds HMAC-SHA256(pepper, key) in hex.
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

// ScopeCatalogWrite allows creating, updating and deleting products and
// coupons.
const ScopeCatalogWrite = "catalog:write"

var (
	// ErrNotFound is returned by repositories when no active key has the hash.
	ErrNotFound = errors.New("api key not found")
	// ErrUnauthorized is returned for missing, unknown or under-scoped keys.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Authenticator checks raw API keys against a Repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC of key, as stored in the repository.
func (a *Authenticator) Hash(key string) string {
	return hex.EncodeToString(a.mac(key))
}

func (a *Authenticator) mac(key string) []byte {
	m := hmac.New(sha256.New, a.pepper)
	m.Write([]byte(key))
	return m.Sum(nil)
}

// Authenticate resolves key and checks it grants scope.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := a.mac(key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored hash could differ from the computed one if the repository
	// returned the wrong row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if !info.HasScope(scope) {
		return nil, ErrUnauthorized
	}
	return info, nil
}
