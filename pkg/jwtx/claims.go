// Package jwtx wraps JWT signing and verification for wallet access tokens.
// Access tokens are short lived, carry the owning device id and mobile
// number, and may be bound to a device proof-of-possession key via the
// cnf.jkt confirmation claim.
package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ezpay/wallet-auth/pkg/idx"
)

// Confirmation carries the RFC 7800 key confirmation claim. Jkt is the
// base64url SHA-256 JWK thumbprint of the device key the token is bound to.
type Confirmation struct {
	Jkt string `json:"jkt"`
}

// Claims is the access token claim set.
type Claims struct {
	jwt.RegisteredClaims

	MobileNumber string        `json:"mobile_number,omitempty"`
	DeviceID     string        `json:"device_id,omitempty"`
	Scope        string        `json:"scope,omitempty"`
	Cnf          *Confirmation `json:"cnf,omitempty"`
}

// NewAccessClaims builds the claim set for a standard access token.
func NewAccessClaims(issuer, audience, subject, mobileNumber, deviceID string, ttl time.Duration) Claims {
	now := time.Now().UTC()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.New().String(),
		},
		MobileNumber: mobileNumber,
		DeviceID:     deviceID,
	}
}

// NewStepUpClaims builds the claim set for a short lived step-up token. The
// scope marks the token as usable only for the sensitive operation it was
// minted for.
func NewStepUpClaims(issuer, audience, subject, deviceID, scope string, ttl time.Duration) Claims {
	c := NewAccessClaims(issuer, audience, subject, "", deviceID, ttl)
	c.Scope = scope
	return c
}

// WithBinding returns a copy of the claims bound to the given JWK thumbprint.
func (c Claims) WithBinding(jkt string) Claims {
	c.Cnf = &Confirmation{Jkt: jkt}
	return c
}

// Bound reports whether the token carries a key confirmation.
func (c Claims) Bound() bool {
	return c.Cnf != nil && c.Cnf.Jkt != ""
}
