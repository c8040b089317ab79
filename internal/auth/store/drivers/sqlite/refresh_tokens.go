package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/pkg/idx"
)

type refreshTokenRepo struct {
	q queryable
}

func (r *refreshTokenRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(id, token_hash, user_id, mobile_number, device_id, issued_at, expires_at, revoked, revoked_at, rotated_to, ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.TokenHash, t.UserID, t.MobileNumber, t.DeviceID,
		t.IssuedAt.UTC(), t.ExpiresAt.UTC(), boolToInt(t.Revoked), t.RevokedAt,
		t.RotatedTo.String(), t.IP, t.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create refresh token: %w", err)
	}
	return nil
}

func (r *refreshTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, mobile_number, device_id, issued_at, expires_at, revoked, revoked_at, rotated_to, ip, user_agent
		FROM refresh_tokens
		WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

func (r *refreshTokenRepo) RevokeIfActive(ctx context.Context, id idx.ID, rotatedTo idx.ID, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, revoked_at = ?, rotated_to = ?
		WHERE id = ? AND revoked = 0`,
		at.UTC(), rotatedTo.String(), id.String(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *refreshTokenRepo) RevokeAllForDevice(ctx context.Context, deviceID string, at time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, revoked_at = ?
		WHERE device_id = ? AND revoked = 0`,
		at.UTC(), deviceID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: revoke device tokens: %w", err)
	}
	return res.RowsAffected()
}

func (r *refreshTokenRepo) CountActiveForDevice(ctx context.Context, deviceID string) (int64, error) {
	var n int64
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM refresh_tokens
		WHERE device_id = ? AND revoked = 0 AND expires_at > ?`,
		deviceID, time.Now().UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count active tokens: %w", err)
	}
	return n, nil
}

func (r *refreshTokenRepo) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanRefreshToken(row *sql.Row) (*domain.RefreshToken, error) {
	var (
		t         domain.RefreshToken
		id        string
		rotatedTo string
		revoked   int
		revokedAt sql.NullTime
	)
	err := row.Scan(&id, &t.TokenHash, &t.UserID, &t.MobileNumber, &t.DeviceID,
		&t.IssuedAt, &t.ExpiresAt, &revoked, &revokedAt, &rotatedTo, &t.IP, &t.UserAgent)
	if err != nil {
		return nil, mapNotFound(err)
	}
	t.ID = idx.ID(id)
	t.RotatedTo = idx.ID(rotatedTo)
	t.Revoked = revoked == 1
	if revokedAt.Valid {
		at := revokedAt.Time.UTC()
		t.RevokedAt = &at
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
