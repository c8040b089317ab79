package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Leeway applied to exp/nbf/iat checks to absorb clock skew between the
// gateway and signing hosts.
const Leeway = 300 * time.Second

var (
	ErrTokenExpired = errors.New("jwtx: token expired")
	ErrTokenInvalid = errors.New("jwtx: token invalid")
)

// Verifier validates access tokens against the manager's key set.
type Verifier struct {
	km       *KeyManager
	issuer   string
	audience string
}

// NewVerifier builds a verifier enforcing the given issuer and audience.
func NewVerifier(km *KeyManager, issuer, audience string) *Verifier {
	return &Verifier{km: km, issuer: issuer, audience: audience}
}

// Verify parses and validates a compact JWS access token, returning its
// claims. Expiry is distinguished from other failures so that callers can
// surface the right wire error.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithLeeway(Leeway),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, ErrUnknownKeyID
	}
	return v.km.publicKey(kid)
}
