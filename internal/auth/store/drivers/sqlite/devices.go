package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store"
)

type deviceRepo struct {
	q queryable
}

func (r *deviceRepo) Upsert(ctx context.Context, d *domain.Device) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO devices
			(device_id, user_id, mobile_number, model, platform, fingerprint, public_key_pem, trusted, suspended, registered_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			user_id = excluded.user_id,
			mobile_number = excluded.mobile_number,
			model = excluded.model,
			platform = excluded.platform,
			fingerprint = excluded.fingerprint,
			public_key_pem = excluded.public_key_pem,
			trusted = excluded.trusted,
			suspended = excluded.suspended,
			last_seen_at = excluded.last_seen_at`,
		d.DeviceID, d.UserID, d.MobileNumber, d.Model, d.Platform, d.Fingerprint,
		d.PublicKeyPEM, boolToInt(d.Trusted), boolToInt(d.Suspended),
		d.RegisteredAt.UTC(), d.LastSeenAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert device: %w", err)
	}
	return nil
}

func (r *deviceRepo) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	var (
		d         domain.Device
		trusted   int
		suspended int
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT device_id, user_id, mobile_number, model, platform, fingerprint, public_key_pem, trusted, suspended, registered_at, last_seen_at
		FROM devices
		WHERE device_id = ?`, deviceID,
	).Scan(&d.DeviceID, &d.UserID, &d.MobileNumber, &d.Model, &d.Platform,
		&d.Fingerprint, &d.PublicKeyPEM, &trusted, &suspended, &d.RegisteredAt, &d.LastSeenAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	d.Trusted = trusted == 1
	d.Suspended = suspended == 1
	d.RegisteredAt = d.RegisteredAt.UTC()
	d.LastSeenAt = d.LastSeenAt.UTC()
	return &d, nil
}

func (r *deviceRepo) SetSuspended(ctx context.Context, deviceID string, suspended bool) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE devices SET suspended = ? WHERE device_id = ?`,
		boolToInt(suspended), deviceID)
	if err != nil {
		return fmt.Errorf("sqlite: set suspended: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *deviceRepo) TouchLastSeen(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = ? WHERE device_id = ?`,
		at.UTC(), deviceID)
	if err != nil {
		return fmt.Errorf("sqlite: touch last seen: %w", err)
	}
	return nil
}
