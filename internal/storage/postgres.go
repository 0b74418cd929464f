// Package storage implements the durable-write contract the pipeline
// depends on: idempotent tick inserts keyed by (website_id, checked_at),
// website lookups and analysis persistence.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upwatch/upwatch/internal/domain"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type Store struct {
	pool *pgxpool.Pool
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureRegion creates the region row the pipeline tags ticks with.
func (s *Store) EnsureRegion(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO regions (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, name)
	if err != nil {
		return fmt.Errorf("ensure region %s: %w", id, err)
	}
	return nil
}

// ListWebsites returns every monitored website.
func (s *Store) ListWebsites(ctx context.Context) ([]domain.Website, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, name, created_at
		FROM websites
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var websites []domain.Website
	for rows.Next() {
		var w domain.Website
		if err := rows.Scan(&w.ID, &w.URL, &w.Name, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		websites = append(websites, w)
	}
	return websites, rows.Err()
}

// FindWebsite looks up one website, returning ErrNotFound when the
// reference is permanently invalid.
func (s *Store) FindWebsite(ctx context.Context, id string) (*domain.Website, error) {
	var w domain.Website
	err := s.pool.QueryRow(ctx, `
		SELECT id, url, name, created_at
		FROM websites
		WHERE id = $1
	`, id).Scan(&w.ID, &w.URL, &w.Name, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find website %s: %w", id, err)
	}
	return &w, nil
}

// ListRecentTicks returns the most recent ticks for a website, newest first.
func (s *Store) ListRecentTicks(ctx context.Context, websiteID string, limit int) ([]domain.Tick, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, website_id, region_id, status, response_time_ms, checked_at,
		       http_status_code, error_kind, error_message, response_headers,
		       dns_resolution_ms, ssl_valid, ssl_expiry, ssl_issuer
		FROM website_ticks
		WHERE website_id = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`, websiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent ticks for %s: %w", websiteID, err)
	}
	defer rows.Close()

	var ticks []domain.Tick
	for rows.Next() {
		var t domain.Tick
		var errKind *string
		var errMessage, sslIssuer *string
		if err := rows.Scan(
			&t.ID, &t.WebsiteID, &t.RegionID, &t.Status, &t.ResponseTimeMs, &t.CheckedAt,
			&t.HTTPStatusCode, &errKind, &errMessage, &t.ResponseHeaders,
			&t.DNSResolutionMs, &t.SSLValid, &t.SSLExpiry, &sslIssuer,
		); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		if errKind != nil {
			kind := domain.ErrorKind(*errKind)
			t.ErrorKind = &kind
		}
		if errMessage != nil {
			t.ErrorMessage = *errMessage
		}
		if sslIssuer != nil {
			t.SSLIssuer = *sslIssuer
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// InsertTicksBatch persists a batch of ticks in a single statement.
// Redelivered results are deduped by the (website_id, checked_at) unique
// index; the returned count covers only rows actually inserted.
func (s *Store) InsertTicksBatch(ctx context.Context, ticks []domain.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO website_ticks (
			website_id, region_id, status, response_time_ms, checked_at,
			http_status_code, error_kind, error_message, response_headers,
			dns_resolution_ms, ssl_valid, ssl_expiry, ssl_issuer
		) VALUES `)

	const cols = 13
	args := make([]interface{}, 0, len(ticks)*cols)
	for i, t := range ticks {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < cols; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+j+1)
		}
		sb.WriteString(")")
		args = append(args,
			t.WebsiteID, t.RegionID, string(t.Status), t.ResponseTimeMs, t.CheckedAt,
			t.HTTPStatusCode, errorKindValue(t.ErrorKind), nullString(t.ErrorMessage),
			headersValue(t.ResponseHeaders), t.DNSResolutionMs,
			t.SSLValid, t.SSLExpiry, nullString(t.SSLIssuer),
		)
	}
	sb.WriteString(" ON CONFLICT (website_id, checked_at) DO NOTHING")

	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert ticks batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpsertEnrichedTick writes the analyzer's view of a tick. When the ingester
// already wrote the base row for the same (website_id, checked_at) key, only
// the enrichment columns are updated, so the two writers can never clobber
// each other. Returns the tick ID either way.
func (s *Store) UpsertEnrichedTick(ctx context.Context, t domain.Tick) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO website_ticks (
			website_id, region_id, status, response_time_ms, checked_at,
			http_status_code, error_kind, error_message, response_headers,
			dns_resolution_ms, ssl_valid, ssl_expiry, ssl_issuer
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (website_id, checked_at) DO UPDATE SET
			http_status_code  = EXCLUDED.http_status_code,
			error_kind        = EXCLUDED.error_kind,
			error_message     = EXCLUDED.error_message,
			response_headers  = EXCLUDED.response_headers,
			dns_resolution_ms = EXCLUDED.dns_resolution_ms,
			ssl_valid         = EXCLUDED.ssl_valid,
			ssl_expiry        = EXCLUDED.ssl_expiry,
			ssl_issuer        = EXCLUDED.ssl_issuer
		RETURNING id
	`,
		t.WebsiteID, t.RegionID, string(t.Status), t.ResponseTimeMs, t.CheckedAt,
		t.HTTPStatusCode, errorKindValue(t.ErrorKind), nullString(t.ErrorMessage),
		headersValue(t.ResponseHeaders), t.DNSResolutionMs,
		t.SSLValid, t.SSLExpiry, nullString(t.SSLIssuer),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert tick for website %s: %w", t.WebsiteID, err)
	}
	return id, nil
}

// InsertAnalysis persists an analysis linked to its tick. A redelivered
// failure that was already analyzed is a no-op thanks to the unique index
// on tick_id.
func (s *Store) InsertAnalysis(ctx context.Context, a domain.Analysis) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (
			tick_id, failure_type, severity, summary,
			recommendations, confidence, model, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tick_id) DO NOTHING
	`,
		a.TickID, string(a.FailureType), string(a.Severity), a.Summary,
		a.Recommendations, a.Confidence, a.Model, a.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis for tick %s: %w", a.TickID, err)
	}
	return nil
}

func errorKindValue(kind *domain.ErrorKind) *string {
	if kind == nil {
		return nil
	}
	s := string(*kind)
	return &s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func headersValue(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	return headers
}
