package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	keys map[string]APIKeyInfo
	err  error
}

func (m *mockRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.keys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func TestAuthenticate(t *testing.T) {
	repo := &mockRepo{keys: map[string]APIKeyInfo{}}
	a := NewAuthenticator(repo, []byte("pepper"))

	admin := a.Hash("admin-key")
	repo.keys[admin] = APIKeyInfo{ID: "1", KeyHash: admin, Name: "admin", Scopes: []string{ScopeCatalogWrite}}
	reader := a.Hash("read-key")
	repo.keys[reader] = APIKeyInfo{ID: "2", KeyHash: reader, Name: "reader"}
	wrong := a.Hash("wrong-row")
	repo.keys[wrong] = APIKeyInfo{ID: "3", KeyHash: admin, Scopes: []string{ScopeCatalogWrite}}

	ctx := context.Background()

	info, err := a.Authenticate(ctx, "admin-key", ScopeCatalogWrite)
	require.NoError(t, err)
	assert.Equal(t, "admin", info.Name)

	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "unknown", key: "nope"},
		{name: "missing scope", key: "read-key"},
		{name: "hash mismatch", key: "wrong-row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(ctx, tt.key, ScopeCatalogWrite)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestAuthenticate_RepositoryError(t *testing.T) {
	boom := errors.New("db down")
	a := NewAuthenticator(&mockRepo{err: boom}, nil)

	_, err := a.Authenticate(context.Background(), "key", ScopeCatalogWrite)
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestHashDependsOnPepper(t *testing.T) {
	a := NewAuthenticator(nil, []byte("a"))
	b := NewAuthenticator(nil, []byte("b"))
	assert.NotEqual(t, a.Hash("key"), b.Hash("key"))
	assert.Len(t, a.Hash("key"), 64)
}
