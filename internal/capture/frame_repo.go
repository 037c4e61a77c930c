package capture

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/camlink/internal/connectors"
)

// Frame is a stored raw frame.
type Frame struct {
	ID        int64
	Direction connectors.FrameDirection
	Transport string
	Payload   []byte
	At        time.Time
}

type FrameRepo struct {
	db *sql.DB
}

func NewFrameRepo(db *sql.DB) *FrameRepo {
	return &FrameRepo{db: db}
}

func (r *FrameRepo) Insert(ctx context.Context, f connectors.RawFrame) error {
	payload := f.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO frames(direction, transport, payload, len, at)
		VALUES (?, ?, ?, ?, ?)
	`, string(f.Direction), f.Transport, payload, len(payload), toUnixMillis(f.At))
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListRecent returns up to limit frames, newest first.
func (r *FrameRepo) ListRecent(ctx context.Context, limit int) ([]Frame, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, direction, transport, payload, at
		FROM frames
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			f         Frame
			direction string
			atMs      int64
		)
		if err := rows.Scan(&f.ID, &direction, &f.Transport, &f.Payload, &atMs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Direction = connectors.FrameDirection(direction)
		f.At = fromUnixMillis(atMs)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	return out, nil
}

func (r *FrameRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return count, nil
}

//goland:noinspection SqlWithoutWhere
func (r *FrameRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM frames;`); err != nil {
		return fmt.Errorf("clear frames: %w", err)
	}
	return nil
}

func toUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
