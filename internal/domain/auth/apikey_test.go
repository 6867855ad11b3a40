package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	byHash map[string]*APIKeyInfo
	err    error
}

func (m *mockRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.byHash[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return info, nil
}

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("pepper"), "secret")
	b := HashKey([]byte("pepper"), "secret")
	c := HashKey([]byte("other"), "secret")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestAuthenticator_Authenticate(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "secret")
	repo := &mockRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "default", KeyHash: hash, Name: "Default", Scopes: []string{ScopeCreateOrder}},
	}}

	tests := []struct {
		name    string
		repo    Repository
		key     string
		scope   string
		wantErr error
	}{
		{name: "valid key and scope", repo: repo, key: "secret", scope: ScopeCreateOrder},
		{name: "missing key", repo: repo, key: "", scope: ScopeCreateOrder, wantErr: ErrUnauthorized},
		{name: "unknown key", repo: repo, key: "nope", scope: ScopeCreateOrder, wantErr: ErrUnauthorized},
		{name: "missing scope", repo: repo, key: "secret", scope: ScopeReadReports, wantErr: ErrForbidden},
		{
			name:    "repository failure",
			repo:    &mockRepo{err: errors.New("connection reset")},
			key:     "secret",
			scope:   ScopeCreateOrder,
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(tt.repo, pepper)
			info, err := a.Authenticate(context.Background(), tt.key, tt.scope)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "default", info.ID)
		})
	}
}

func TestAuthenticator_StoreFailureIsNotUnauthorized(t *testing.T) {
	cause := errors.New("connection reset")
	a := NewAuthenticator(&mockRepo{err: cause}, []byte("pepper"))

	_, err := a.Authenticate(context.Background(), "secret", ScopeCreateOrder)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticator_StoredHashMismatch(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "secret")
	repo := &mockRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "stale", KeyHash: "deadbeef", Scopes: []string{ScopeCreateOrder}},
	}}

	_, err := NewAuthenticator(repo, pepper).Authenticate(context.Background(), "secret", ScopeCreateOrder)
	require.ErrorIs(t, err, ErrUnauthorized)
}
