package credentials

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: subject,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestUser(t *testing.T) {
	assert.False(t, User{}.IsAuthenticated())
	assert.True(t, User{UID: "u1"}.IsAuthenticated())
	assert.True(t, User{UID: "u1"}.Equal(User{UID: "u1"}))
	assert.False(t, User{UID: "u1"}.Equal(User{UID: "u2"}))
}

func TestAnonymousProvider(t *testing.T) {
	p := AnonymousProvider{}

	token, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token.Value)
	assert.False(t, token.User.IsAuthenticated())

	var got *User
	p.SetUserChangeListener(func(u User) { got = &u })
	require.NotNil(t, got)
	assert.False(t, got.IsAuthenticated())

	// Nil listener must not panic.
	p.SetUserChangeListener(nil)
}

func TestNewStaticProvider(t *testing.T) {
	p, err := NewStaticProvider(signedToken(t, "user-1"))
	require.NoError(t, err)

	token, err := p.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", token.User.UID)
	assert.NotEmpty(t, token.Value)
}

func TestNewStaticProvider_MalformedToken(t *testing.T) {
	_, err := NewStaticProvider("not-a-jwt")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, codes.CodeOf(err))
}

func TestStaticProvider_InvalidateToken(t *testing.T) {
	p, err := NewStaticProvider(signedToken(t, "user-1"))
	require.NoError(t, err)

	p.InvalidateToken()
	_, err = p.GetToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, codes.CodeOf(err))

	// A fresh token clears the invalidation.
	require.NoError(t, p.UpdateToken(signedToken(t, "user-1")))
	_, err = p.GetToken(context.Background())
	assert.NoError(t, err)
}

func TestStaticProvider_UserChangeListener(t *testing.T) {
	p, err := NewStaticProvider(signedToken(t, "user-1"))
	require.NoError(t, err)

	var seen []string
	p.SetUserChangeListener(func(u User) { seen = append(seen, u.UID) })
	// The listener hears the current user immediately.
	assert.Equal(t, []string{"user-1"}, seen)

	// Same subject: no change event.
	require.NoError(t, p.UpdateToken(signedToken(t, "user-1")))
	assert.Len(t, seen, 1)

	require.NoError(t, p.UpdateToken(signedToken(t, "user-2")))
	assert.Equal(t, []string{"user-1", "user-2"}, seen)

	p.Shutdown()
	require.NoError(t, p.UpdateToken(signedToken(t, "user-3")))
	assert.Len(t, seen, 2)
}
