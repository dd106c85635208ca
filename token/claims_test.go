package token_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/quantrail/quantachat/token"
	"github.com/quantrail/quantachat/token/keys"
	"github.com/quantrail/quantachat/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, user *users.User) string {
	t.Helper()

	keyPair, err := keys.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)

	signed, err := token.NewCreator("quantachat-test", time.Hour).
		CreateSessionToken(user, keys.NewKeyPairSigner(keyPair))
	require.NoError(t, err)
	return signed
}

func TestDecodeRoundTrip(t *testing.T) {
	raw := mintToken(t, &users.User{
		ID:           7,
		Role:         users.RoleAdmin,
		Email:        "jane@example.com",
		Name:         "Jane Doe",
		IsSuperAdmin: true,
	})

	claims := token.Decode(raw)
	require.NotNil(t, claims)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, users.RoleAdmin, claims.Role)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.Equal(t, "Jane Doe", claims.Name)
	assert.True(t, claims.IsSuperAdmin)
	assert.NotEmpty(t, claims.Jti)
	assert.False(t, claims.Expired())
}

func TestDecodeGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-a-jwt",
		"a.b",
		"a.b.c",
		"....",
		base64.RawURLEncoding.EncodeToString([]byte("{}")) + ".x.y",
	}
	for _, raw := range cases {
		assert.Nil(t, token.Decode(raw), "input %q", raw)
	}
}

func TestDecodeRequiresUserID(t *testing.T) {
	// Well-formed JWT structure but no userId claim.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"role":"Admin"}`))
	assert.Nil(t, token.Decode(header+"."+payload+".sig"))
}

func TestDecodeStringUserID(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"userId":"42","role":"Editor"}`))

	claims := token.Decode(header + "." + payload + ".sig")
	require.NotNil(t, claims)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, users.RoleEditor, claims.Role)
}

func TestExpired(t *testing.T) {
	restore := token.NowTimeFunc
	defer func() { token.NowTimeFunc = restore }()

	now := time.Now()
	token.NowTimeFunc = func() time.Time { return now }

	claims := &token.Claims{UserID: 1, Exp: now.Unix()}
	assert.True(t, claims.Expired(), "exp equal to now is expired")

	claims.Exp = now.Add(time.Minute).Unix()
	assert.False(t, claims.Expired())

	claims.Exp = 0
	assert.False(t, claims.Expired(), "tokens without exp never expire client-side")
}
