// Package domain holds the core auth entities persisted by the store layer.
package domain

import (
	"time"

	"github.com/ezpay/wallet-auth/pkg/idx"
)

// RefreshToken is one rotation-chain link for a device session. Only the
// SHA-256 fingerprint of the secret is stored; the plaintext is handed to
// the client exactly once. Rows are never updated back to active: rotation
// revokes the old row and inserts a new one, and a lookup that lands on a
// revoked row is treated as reuse.
type RefreshToken struct {
	ID           idx.ID
	TokenHash    string
	UserID       string
	MobileNumber string
	DeviceID     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RotatedTo    idx.ID
	IP           string
	UserAgent    string
}

// Expired reports whether the token is past its expiry at the given time.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the token can still be rotated.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && !t.Expired(now)
}

// Device is a registered mobile device. The fingerprint pins the device to
// the user agent and network it registered from; PublicKeyPEM is the
// proof-of-possession key presented at registration.
type Device struct {
	DeviceID     string
	UserID       string
	MobileNumber string
	Model        string
	Platform     string
	Fingerprint  string
	PublicKeyPEM string
	Trusted      bool
	Suspended    bool
	RegisteredAt time.Time
	LastSeenAt   time.Time
}

// TokenBundle is the pair handed to a client after a successful issue or
// rotation.
type TokenBundle struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// AnomalyEvent records a request the adaptive detector flagged or a breaker
// fallback, for the audit trail.
type AnomalyEvent struct {
	RequestID string    `json:"request_id"`
	DeviceID  string    `json:"device_id"`
	Reason    string    `json:"reason"`
	URI       string    `json:"uri,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
