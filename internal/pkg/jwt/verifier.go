// internal/pkg/jwt/verifier.go
package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Leeway absorbs clock skew between the API replicas and workers.
const Leeway = 30 * time.Second

var ErrNotAccessToken = errors.New("token is not an access token")

type Verifier struct {
	pub    *rsa.PublicKey
	kid    string
	parser *jwt.Parser
}

func NewVerifier(pub *rsa.PublicKey, cfg Config) *Verifier {
	return &Verifier{
		pub: pub,
		kid: cfg.KID,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(Leeway),
		),
	}
}

// Verify checks signature, expiry, issuer and audience. A token carrying a
// different kid was signed by a rotated-out key and is rejected.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if v.pub == nil {
		return nil, fmt.Errorf("jwt verifier has nil public key")
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if kid, _ := token.Header["kid"].(string); v.kid != "" && kid != v.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return v.pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

func (v *Verifier) VerifyAccessToken(tokenString string) (*Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeAccess {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}
