package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists one session blob per user in SQLite. A row past its
// expiry reads as absent and is removed by CleanupExpired.
type Repository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewRepository creates a new Repository instance
func NewRepository(db *sql.DB, ttl time.Duration) *Repository {
	return &Repository{db: db, ttl: ttl, now: time.Now}
}

// Get returns the user's blob, or nil if there is no live session.
func (r *Repository) Get(ctx context.Context, userID int64) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM user_sessions WHERE user_id = ? AND expires_at > ?`,
		userID, r.now().Unix(),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Put replaces the user's blob and extends its expiry.
func (r *Repository) Put(ctx context.Context, userID int64, blob []byte) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, data, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		userID, blob, now.Unix(), now.Add(r.ttl).Unix(),
	)
	return err
}

// Delete removes the user's session.
func (r *Repository) Delete(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID)
	return err
}

// CleanupExpired removes all expired sessions and reports how many went.
func (r *Repository) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= ?`, r.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
