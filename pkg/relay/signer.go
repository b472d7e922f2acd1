// Copyright 2024-2026 Aiku AI

package relay

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	signerIssuer = "wabridge"
	signerTTL    = 60 * time.Second
)

// signer issues a short-lived HS256 token per delivery so the backend can
// verify that a webhook came from this bridge. The token subject is the
// notification kind and its ID is the delivery ID.
type signer struct {
	key []byte
	now func() time.Time
}

func newSigner(secret string) *signer {
	return &signer{key: []byte(secret), now: time.Now}
}

func (s *signer) sign(n Notification) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    signerIssuer,
		Subject:   string(n.Kind),
		ID:        n.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(signerTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifyToken parses a delivery token with the shared secret. Backends written
// in Go can use it to authenticate incoming webhooks.
func VerifyToken(secret, token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(signerIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
