// Package archive mirrors the in-memory event rings into PostgreSQL so a
// session's speak, comment and transition history survives the process. The
// archive is optional: it is only wired up when a DSN is configured, and a
// circuit breaker keeps a flaky database from slowing the hot path.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenstream/livehost/pkg/types"
)

// Store is the PostgreSQL-backed session archive. All operations are safe
// for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	sessionID string
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and runs [Migrate] to ensure all required tables exist. Every row
// written by this Store carries sessionID.
func NewStore(ctx context.Context, dsn, sessionID string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Store{pool: pool, sessionID: sessionID}, nil
}

// SpeakRow is one archived speak event.
type SpeakRow struct {
	Timestamp     float64
	Text          string
	Duration      float64
	Intent        types.Intent
	Phase         types.Phase
	ViewerCount   int
	Priority      int
	Reason        types.Reason
	TimeSinceLast float64
}

// CommentRow is one archived comment event.
type CommentRow struct {
	Timestamp       float64
	Author          string
	Text            string
	Intent          types.Intent
	Responded       bool
	ResponseLatency float64
}

// TransitionRow is one archived sale-flow transition.
type TransitionRow struct {
	Timestamp float64
	FromPhase types.Phase
	ToPhase   types.Phase
	Trigger   string
	Dwell     float64
	Forced    bool
}

// InsertSpeak archives one speak event.
func (s *Store) InsertSpeak(ctx context.Context, r SpeakRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO speak_events
		    (session_id, ts, text, duration, intent, phase, viewer_count, priority, reason, time_since_last)
		VALUES ($1, to_timestamp($2), $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.sessionID, r.Timestamp, r.Text, r.Duration, string(r.Intent), string(r.Phase),
		r.ViewerCount, r.Priority, string(r.Reason), r.TimeSinceLast,
	)
	if err != nil {
		return fmt.Errorf("archive: insert speak: %w", err)
	}
	return nil
}

// InsertComment archives one comment event.
func (s *Store) InsertComment(ctx context.Context, r CommentRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comment_events
		    (session_id, ts, author, text, intent, was_responded, response_latency)
		VALUES ($1, to_timestamp($2), $3, $4, $5, $6, $7)`,
		s.sessionID, r.Timestamp, r.Author, r.Text, string(r.Intent), r.Responded, r.ResponseLatency,
	)
	if err != nil {
		return fmt.Errorf("archive: insert comment: %w", err)
	}
	return nil
}

// InsertTransition archives one sale-flow transition.
func (s *Store) InsertTransition(ctx context.Context, r TransitionRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO phase_transitions
		    (session_id, ts, from_phase, to_phase, trigger_label, dwell, forced)
		VALUES ($1, to_timestamp($2), $3, $4, $5, $6, $7)`,
		s.sessionID, r.Timestamp, string(r.FromPhase), string(r.ToPhase), r.Trigger, r.Dwell, r.Forced,
	)
	if err != nil {
		return fmt.Errorf("archive: insert transition: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
