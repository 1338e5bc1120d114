package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/pkg/errors"
)

func TestJWTProvider_RoundTrip(t *testing.T) {
	p := NewJWTProvider("test-secret", time.Hour)

	token, err := p.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	userID, err := p.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestJWTProvider_Expired(t *testing.T) {
	p := NewJWTProvider("test-secret", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	p.now = func() time.Time { return issuedAt }

	token, err := p.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	p.now = time.Now
	_, err = p.Authenticate(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeAuth))
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTProvider_WrongSecretAndGarbage(t *testing.T) {
	issuer := NewJWTProvider("secret-a", time.Hour)
	verifier := NewJWTProvider("secret-b", time.Hour)

	token, err := issuer.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), token)
	assert.True(t, errors.Is(err, errors.CodeAuth))

	_, err = verifier.Authenticate(context.Background(), "not-a-token")
	assert.True(t, errors.Is(err, errors.CodeAuth))
}
