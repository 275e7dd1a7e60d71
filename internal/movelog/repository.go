package movelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/blundrbot/internal/domain"
)

var ErrDuplicateRequest = errors.New("move already logged for request")

const DefaultRecentLimit = 20

// Repository stores served moves. It is write-mostly and never consulted by
// move selection.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, rec *domain.MoveRecord) (int64, error)
	Recent(ctx context.Context, limit int) ([]*domain.MoveRecord, error)
	Stats(ctx context.Context) (*domain.MoveStats, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const schema = `
	CREATE TABLE IF NOT EXISTS served_moves (
		id            BIGSERIAL PRIMARY KEY,
		request_id    TEXT NOT NULL UNIQUE,
		fen           TEXT NOT NULL,
		move_uci      TEXT NOT NULL,
		move_san      TEXT NOT NULL,
		score         INTEGER NOT NULL,
		scored        BOOLEAN NOT NULL,
		game_status   TEXT NOT NULL,
		backend       TEXT NOT NULL,
		fallback      BOOLEAN NOT NULL DEFAULT FALSE,
		recent_moves  JSONB NOT NULL DEFAULT '[]'::jsonb,
		latency_ms    BIGINT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS served_moves_created_at_idx ON served_moves (created_at DESC);`

func (r *repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure served_moves schema: %w", err)
	}
	return nil
}

func (r *repository) Insert(ctx context.Context, rec *domain.MoveRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("nil move record")
	}
	recent := rec.RecentMoves
	if recent == nil {
		recent = []string{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return 0, fmt.Errorf("marshal recent_moves: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO served_moves (
			request_id,
			fen,
			move_uci,
			move_san,
			score,
			scored,
			game_status,
			backend,
			fallback,
			recent_moves,
			latency_ms,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		rec.RequestID,
		rec.FEN,
		rec.Move,
		rec.SAN,
		rec.Score,
		rec.Scored,
		rec.GameStatus,
		rec.Backend,
		rec.Fallback,
		recentJSON,
		rec.Latency.Milliseconds(),
		createdAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateRequest
	}
	if err != nil {
		return 0, fmt.Errorf("insert served move: %w", err)
	}
	rec.ID = id.Int64
	rec.CreatedAt = createdAt
	return id.Int64, nil
}

func (r *repository) Recent(ctx context.Context, limit int) ([]*domain.MoveRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	const query = `
		SELECT
			id,
			request_id,
			fen,
			move_uci,
			move_san,
			score,
			scored,
			game_status,
			backend,
			fallback,
			recent_moves,
			latency_ms,
			created_at
		FROM served_moves
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select served moves: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.MoveRecord, 0, limit)
	for rows.Next() {
		var (
			rec        domain.MoveRecord
			recentJSON []byte
			latencyMS  int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.FEN,
			&rec.Move,
			&rec.SAN,
			&rec.Score,
			&rec.Scored,
			&rec.GameStatus,
			&rec.Backend,
			&rec.Fallback,
			&recentJSON,
			&latencyMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan served move: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		if err := json.Unmarshal(recentJSON, &rec.RecentMoves); err != nil {
			return nil, fmt.Errorf("unmarshal recent_moves: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate served moves: %w", err)
	}
	return out, nil
}

func (r *repository) Stats(ctx context.Context) (*domain.MoveStats, error) {
	stats := &domain.MoveStats{ByBackend: map[string]int64{}, ByStatus: map[string]int64{}}

	const totals = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE fallback),
			COUNT(*) FILTER (WHERE NOT scored),
			COALESCE(AVG(latency_ms), 0)
		FROM served_moves`
	var avgMS float64
	if err := r.db.QueryRowContext(ctx, totals).Scan(&stats.Total, &stats.Fallbacks, &stats.Unscored, &avgMS); err != nil {
		return nil, fmt.Errorf("select move totals: %w", err)
	}
	stats.AvgLatency = time.Duration(avgMS * float64(time.Millisecond))

	if err := r.groupCount(ctx, "backend", stats.ByBackend); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, "game_status", stats.ByStatus); err != nil {
		return nil, err
	}
	return stats, nil
}

// groupCount fills dst with row counts per value of column. column is one of
// the fixed names above, never user input.
func (r *repository) groupCount(ctx context.Context, column string, dst map[string]int64) error {
	rows, err := r.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM served_moves GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("group served moves by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}
