package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/herald/internal/digest"
)

// StoredDigest is one persisted digest run.
// Table: digests (id, run_at, window_hours, channel_count, record_count, content, model, created_at).
type StoredDigest struct {
	ID           uuid.UUID `json:"id"`
	RunAt        time.Time `json:"run_at"`
	WindowHours  int       `json:"window_hours"`
	ChannelCount int       `json:"channel_count"`
	RecordCount  int       `json:"record_count"`
	Content      string    `json:"content"`
	Model        string    `json:"model"`
}

// ErrNoDigests is returned by Latest when nothing has been persisted yet.
var ErrNoDigests = errors.New("store: no digests")

// SaveDigest persists one digest run.
func (s *Store) SaveDigest(ctx context.Context, d *digest.Digest, model string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO digests (id, run_at, window_hours, channel_count, record_count, content, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		d.ID, d.RunAt, d.WindowHours, d.ChannelCount, d.RecordCount, d.Content, model,
	)
	if err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	return nil
}

// LatestDigest returns the most recent run.
func (s *Store) LatestDigest(ctx context.Context) (*StoredDigest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, run_at, window_hours, channel_count, record_count, content, model
		FROM digests ORDER BY run_at DESC LIMIT 1`)

	var d StoredDigest
	err := row.Scan(&d.ID, &d.RunAt, &d.WindowHours, &d.ChannelCount, &d.RecordCount, &d.Content, &d.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoDigests
	}
	if err != nil {
		return nil, fmt.Errorf("select latest digest: %w", err)
	}
	return &d, nil
}

// RecentDigests returns up to limit runs, newest first, without content to
// keep list responses small.
func (s *Store) RecentDigests(ctx context.Context, limit int) ([]StoredDigest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_at, window_hours, channel_count, record_count, model
		FROM digests ORDER BY run_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select digests: %w", err)
	}
	defer rows.Close()

	var out []StoredDigest
	for rows.Next() {
		var d StoredDigest
		if err := rows.Scan(&d.ID, &d.RunAt, &d.WindowHours, &d.ChannelCount, &d.RecordCount, &d.Model); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
