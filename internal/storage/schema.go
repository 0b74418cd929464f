package storage

import (
	"context"
	"fmt"
)

// InitSchema creates the pipeline's tables when they do not exist. The
// websites table itself is owned by the external dashboard API; it is
// created here too so the pipeline can run standalone.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS websites (
			id         TEXT PRIMARY KEY,
			url        TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS website_ticks (
			id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			website_id        TEXT NOT NULL REFERENCES websites(id),
			region_id         TEXT NOT NULL REFERENCES regions(id),
			status            TEXT NOT NULL,
			response_time_ms  BIGINT NOT NULL,
			checked_at        TIMESTAMPTZ NOT NULL,
			http_status_code  INT,
			error_kind        TEXT,
			error_message     TEXT,
			response_headers  JSONB,
			dns_resolution_ms BIGINT,
			ssl_valid         BOOLEAN,
			ssl_expiry        TIMESTAMPTZ,
			ssl_issuer        TEXT,
			UNIQUE (website_id, checked_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_website_ticks_recent
			ON website_ticks (website_id, checked_at DESC)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tick_id         UUID NOT NULL UNIQUE REFERENCES website_ticks(id),
			failure_type    TEXT NOT NULL,
			severity        TEXT NOT NULL,
			summary         TEXT NOT NULL,
			recommendations TEXT NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			model           TEXT NOT NULL,
			analyzed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
