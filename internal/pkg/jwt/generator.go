// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const PurposeAccess = "access"

type Generator struct {
	priv *rsa.PrivateKey
	cfg  Config
	now  func() time.Time
}

func NewGenerator(priv *rsa.PrivateKey, cfg Config) *Generator {
	return &Generator{priv: priv, cfg: cfg, now: time.Now}
}

// TTL is how long issued access tokens live.
func (g *Generator) TTL() time.Duration { return g.cfg.TTL }

// GenerateAccessToken signs an RS256 access token and returns it with its jti,
// which doubles as the session id.
func (g *Generator) GenerateAccessToken(userID int64, email string, roles []string, device string) (string, string, error) {
	if g.priv == nil {
		return "", "", fmt.Errorf("jwt generator has nil private key")
	}

	now := g.now()
	jti := ulid.Make().String()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &Claims{
		UserID:  userID,
		Email:   email,
		Roles:   roles,
		Device:  device,
		Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    g.cfg.Issuer,
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{g.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.TTL)),
		},
	})
	if g.cfg.KID != "" {
		tok.Header["kid"] = g.cfg.KID
	}

	signed, err := tok.SignedString(g.priv)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, jti, nil
}
