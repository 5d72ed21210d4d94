package core

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the strict schema of a provider identity token.
type IDTokenClaims struct {
	Name    string  `json:"name"`
	Picture *string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenVerifier validates HS256 identity tokens signed with the client secret.
type IDTokenVerifier struct {
	Secret   []byte
	Audience string
	Issuer   string
	Now      func() time.Time // nil means time.Now
}

// Verify checks signature, audience, issuer and expiry, then the required
// profile claims. Issued-at is not checked; expiry always is.
func (v *IDTokenVerifier) Verify(tokenString string) (*IDTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.Audience),
		jwt.WithIssuer(v.Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}

	claims := &IDTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrIDTokenInvalid
		}
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrIDTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrIDTokenInvalid)
	}
	if claims.Name == "" {
		return nil, fmt.Errorf("%w: missing name claim", ErrIDTokenInvalid)
	}
	if claims.Picture != nil && *claims.Picture == "" {
		claims.Picture = nil
	}

	return claims, nil
}

// AuthResult combines verified claims with the provider tokens.
func (c *IDTokenClaims) AuthResult(accessToken, refreshToken string) *AuthResult {
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       c.Subject,
		Name:         c.Name,
		Picture:      c.Picture,
		Expire:       c.ExpiresAt.Time.UTC(),
	}
}
