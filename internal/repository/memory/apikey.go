package memory

import (
	"context"
	"sync"

	"github.com/xenking/storefront-discounts/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository keeps API keys in a map keyed by hash.
type APIKeyRepository struct {
	mu     sync.RWMutex
	byHash map[string]auth.APIKeyInfo
}

// NewAPIKeyRepository creates an empty APIKeyRepository.
func NewAPIKeyRepository() *APIKeyRepository {
	return &APIKeyRepository{byHash: map[string]auth.APIKeyInfo{}}
}

// Upsert stores or replaces a key, dropping any previous hash for the same id.
func (r *APIKeyRepository) Upsert(_ context.Context, info auth.APIKeyInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, k := range r.byHash {
		if k.ID == info.ID {
			delete(r.byHash, h)
		}
	}
	r.byHash[info.KeyHash] = info
	return nil
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byHash[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &info, nil
}
