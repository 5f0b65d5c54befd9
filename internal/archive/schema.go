package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — session archive tables
// ─────────────────────────────────────────────────────────────────────────────

const ddlSpeakEvents = `
CREATE TABLE IF NOT EXISTS speak_events (
    id              BIGSERIAL        PRIMARY KEY,
    session_id      TEXT             NOT NULL,
    ts              TIMESTAMPTZ      NOT NULL,
    text            TEXT             NOT NULL,
    duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
    intent          TEXT             NOT NULL,
    phase           TEXT             NOT NULL,
    viewer_count    INTEGER          NOT NULL DEFAULT 0,
    priority        INTEGER          NOT NULL,
    reason          TEXT             NOT NULL,
    time_since_last DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_speak_events_session_ts
    ON speak_events (session_id, ts);
`

const ddlCommentEvents = `
CREATE TABLE IF NOT EXISTS comment_events (
    id               BIGSERIAL        PRIMARY KEY,
    session_id       TEXT             NOT NULL,
    ts               TIMESTAMPTZ      NOT NULL,
    author           TEXT             NOT NULL DEFAULT '',
    text             TEXT             NOT NULL,
    intent           TEXT             NOT NULL,
    was_responded    BOOLEAN          NOT NULL DEFAULT FALSE,
    response_latency DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_comment_events_session_ts
    ON comment_events (session_id, ts);
`

const ddlPhaseTransitions = `
CREATE TABLE IF NOT EXISTS phase_transitions (
    id            BIGSERIAL        PRIMARY KEY,
    session_id    TEXT             NOT NULL,
    ts            TIMESTAMPTZ      NOT NULL,
    from_phase    TEXT             NOT NULL,
    to_phase      TEXT             NOT NULL,
    trigger_label TEXT             NOT NULL,
    dwell         DOUBLE PRECISION NOT NULL DEFAULT 0,
    forced        BOOLEAN          NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_phase_transitions_session_ts
    ON phase_transitions (session_id, ts);
`

// Migrate ensures all archive tables and indexes exist. Statements are
// idempotent, so running it on every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlSpeakEvents, ddlCommentEvents, ddlPhaseTransitions} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}
