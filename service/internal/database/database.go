// Package database stores finished matches in Postgres.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// ErrNoURL is returned by Open when no connection string is configured.
var ErrNoURL = errors.New("database: no connection url")

// ExchangeRecord is one turn of a finished match. Slots are card strings
// such as "AB".
type ExchangeRecord struct {
	Turn       int    `json:"turn"`
	FirstMover string `json:"firstMover"`
	Offered    string `json:"offered"`
	Returned   string `json:"returned"`
}

// MatchRecord is one finished or abandoned match.
type MatchRecord struct {
	ID          uuid.UUID
	Players     [2]string
	Scores      [2]int
	Winner      string // empty on a draw or abandoned match
	Abandoned   bool
	FirstMover  string // proposer on turn 1
	InitialHand [2]string
	FinalHand   [2]string
	Exchanges   []ExchangeRecord
	StartedAt   time.Time
	FinishedAt  time.Time
}

// detail is the JSONB part of a row.
type detail struct {
	FirstMover  string           `json:"firstMover"`
	InitialHand [2]string        `json:"initialHand"`
	FinalHand   [2]string        `json:"finalHand"`
	Exchanges   []ExchangeRecord `json:"exchanges"`
}

const schema = `
CREATE TABLE IF NOT EXISTS match_results (
	id          UUID PRIMARY KEY,
	player_a    TEXT NOT NULL,
	player_b    TEXT NOT NULL,
	score_a     INTEGER NOT NULL,
	score_b     INTEGER NOT NULL,
	winner      TEXT NOT NULL DEFAULT '',
	abandoned   BOOLEAN NOT NULL DEFAULT FALSE,
	detail      JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS match_results_finished_at ON match_results (finished_at DESC);
`

// Store wraps a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// Open connects to url and pings it.
func Open(ctx context.Context, url string, log *logrus.Entry) (*Store, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return &Store{pool: pool, log: log.WithField("component", "database")}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}
	return nil
}

// RecordMatch inserts rec, replacing an earlier row with the same ID.
func (s *Store) RecordMatch(ctx context.Context, rec MatchRecord) error {
	raw, err := json.Marshal(detail{
		FirstMover:  rec.FirstMover,
		InitialHand: rec.InitialHand,
		FinalHand:   rec.FinalHand,
		Exchanges:   rec.Exchanges,
	})
	if err != nil {
		return fmt.Errorf("database: encoding match %s: %w", rec.ID, err)
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO match_results
			(id, player_a, player_b, score_a, score_b, winner, abandoned, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			score_a = EXCLUDED.score_a,
			score_b = EXCLUDED.score_b,
			winner = EXCLUDED.winner,
			abandoned = EXCLUDED.abandoned,
			detail = EXCLUDED.detail,
			finished_at = EXCLUDED.finished_at`,
		rec.ID, rec.Players[0], rec.Players[1], rec.Scores[0], rec.Scores[1],
		rec.Winner, rec.Abandoned, raw, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("database: recording match %s: %w", rec.ID, err)
	}
	s.log.WithFields(logrus.Fields{"match": rec.ID, "abandoned": rec.Abandoned}).Debug("match recorded")
	return nil
}

// RecentMatches returns up to limit matches, newest first.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, player_a, player_b, score_a, score_b, winner, abandoned, detail, started_at, finished_at
		FROM match_results
		ORDER BY finished_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("database: recent matches: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanMatch)
	if err != nil {
		return nil, fmt.Errorf("database: recent matches: %w", err)
	}
	return out, nil
}

func scanMatch(row pgx.CollectableRow) (MatchRecord, error) {
	var (
		rec MatchRecord
		raw []byte
	)
	err := row.Scan(&rec.ID, &rec.Players[0], &rec.Players[1], &rec.Scores[0], &rec.Scores[1],
		&rec.Winner, &rec.Abandoned, &raw, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return rec, err
	}
	var d detail
	if err := json.Unmarshal(raw, &d); err != nil {
		return rec, fmt.Errorf("decoding detail of %s: %w", rec.ID, err)
	}
	rec.FirstMover = d.FirstMover
	rec.InitialHand = d.InitialHand
	rec.FinalHand = d.FinalHand
	rec.Exchanges = d.Exchanges
	return rec, nil
}
