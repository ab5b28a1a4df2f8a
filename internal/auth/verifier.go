// Package auth consumes the external identity contract: a presented
// credential either maps to a stable user identity or the connection
// attempt dies before touching anything else.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
)

// Verifier validates a credential and yields the identity behind it.
type Verifier interface {
	Verify(token string) (domain.UserID, error)
}

// JWTVerifier checks HMAC-signed bearer tokens minted by the account
// service. Token issuance itself lives outside this process.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (domain.UserID, error) {
	if token == "" {
		return "", core.ErrUnauthenticated
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", core.ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", core.ErrUnauthenticated
	}
	uid, _ := claims["user_id"].(string)
	if uid == "" {
		return "", core.ErrUnauthenticated
	}
	return domain.UserID(uid), nil
}

// Sign mints a token for uid. The production issuer is the external account
// service; this helper exists for local runs and tests.
func (v *JWTVerifier) Sign(uid domain.UserID, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": string(uid),
		"exp":     time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
