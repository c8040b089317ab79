// Package store defines the persistence interfaces for the auth core. The
// relational side (refresh tokens, devices) is driver-backed and
// transactional; ephemeral state (nonces, jti replay marks, counters,
// caches) lives behind the TTL store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/pkg/idx"
)

// ErrNotFound is returned when a requested row does not exist. Drivers map
// their native miss conditions onto it.
var ErrNotFound = errors.New("store: not found")

// Store is the relational persistence surface.
type Store interface {
	RefreshTokens() RefreshTokenRepo
	Devices() DeviceRepo

	// WithTx runs fn inside a transaction, committing when fn returns nil
	// and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	ApplyMigrations() error
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the repositories bound to a single transaction.
type Tx interface {
	RefreshTokens() RefreshTokenRepo
	Devices() DeviceRepo
}

// RefreshTokenRepo persists refresh-token rotation chains.
type RefreshTokenRepo interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)

	// RevokeIfActive flips the row to revoked only if it is currently
	// active, returning whether this call won the flip. A false return on
	// an existing row means someone rotated it first: that is reuse.
	RevokeIfActive(ctx context.Context, id idx.ID, rotatedTo idx.ID, at time.Time) (bool, error)

	RevokeAllForDevice(ctx context.Context, deviceID string, at time.Time) (int64, error)
	CountActiveForDevice(ctx context.Context, deviceID string) (int64, error)

	// PurgeExpiredBefore deletes rows whose expiry predates cutoff. Revoked
	// rows inside the retention window are kept for the audit trail.
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeviceRepo persists registered devices.
type DeviceRepo interface {
	Upsert(ctx context.Context, d *domain.Device) error
	Get(ctx context.Context, deviceID string) (*domain.Device, error)
	SetSuspended(ctx context.Context, deviceID string, suspended bool) error
	TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error
}
