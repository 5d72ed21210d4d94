package core_test

import (
	"testing"
	"time"

	"linerelay/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChannelID     = "1234567890"
	testChannelSecret = "channel-secret-for-tests"
	testIssuer        = "https://access.line.me"
)

func newVerifier() *core.IDTokenVerifier {
	return &core.IDTokenVerifier{
		Secret:   []byte(testChannelSecret),
		Audience: testChannelID,
		Issuer:   testIssuer,
		Now:      func() time.Time { return fixedNow },
	}
}

func signIDToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":     testIssuer,
		"sub":     "U1",
		"aud":     testChannelID,
		"exp":     fixedNow.Add(time.Hour).Unix(),
		"iat":     fixedNow.Unix(),
		"name":    "Alice",
		"picture": "https://profile.line-scdn.net/alice",
	}
}

func TestVerify_ValidToken(t *testing.T) {
	token := signIDToken(t, jwt.SigningMethodHS256, []byte(testChannelSecret), validClaims())

	claims, err := newVerifier().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
	require.NotNil(t, claims.Picture)
	assert.Equal(t, "https://profile.line-scdn.net/alice", *claims.Picture)

	result := claims.AuthResult("access", "refresh")
	assert.Equal(t, "U1", result.UserID)
	assert.Equal(t, "access", result.AccessToken)
	assert.Equal(t, "refresh", result.RefreshToken)
	assert.True(t, fixedNow.Add(time.Hour).Equal(result.Expire))
	assert.Equal(t, time.UTC, result.Expire.Location())
}

func TestVerify_PictureOptional(t *testing.T) {
	claims := validClaims()
	delete(claims, "picture")
	token := signIDToken(t, jwt.SigningMethodHS256, []byte(testChannelSecret), claims)

	verified, err := newVerifier().Verify(token)
	require.NoError(t, err)
	assert.Nil(t, verified.Picture)
}

func TestVerify_IssuedAtInFutureAccepted(t *testing.T) {
	claims := validClaims()
	claims["iat"] = fixedNow.Add(10 * time.Minute).Unix()
	token := signIDToken(t, jwt.SigningMethodHS256, []byte(testChannelSecret), claims)

	_, err := newVerifier().Verify(token)
	assert.NoError(t, err)
}

func TestVerify_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		secret string
	}{
		{name: "wrong secret", secret: "another-secret"},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = fixedNow.Add(-time.Second).Unix() }},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
		{name: "missing sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "missing name", mutate: func(c jwt.MapClaims) { delete(c, "name") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			secret := testChannelSecret
			if tt.secret != "" {
				secret = tt.secret
			}
			token := signIDToken(t, jwt.SigningMethodHS256, []byte(secret), claims)

			_, err := newVerifier().Verify(token)
			assert.ErrorIs(t, err, core.ErrIDTokenInvalid)
			assert.ErrorIs(t, err, core.ErrAuth)
		})
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	token := signIDToken(t, jwt.SigningMethodHS512, []byte(testChannelSecret), validClaims())

	_, err := newVerifier().Verify(token)
	assert.ErrorIs(t, err, core.ErrIDTokenInvalid)

	unsigned := signIDToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims())
	_, err = newVerifier().Verify(unsigned)
	assert.ErrorIs(t, err, core.ErrIDTokenInvalid)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := newVerifier().Verify("not-a-jwt")
	assert.ErrorIs(t, err, core.ErrIDTokenInvalid)
}
