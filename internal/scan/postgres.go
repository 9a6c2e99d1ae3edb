package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL. Scans and drafts are kept as
// JSONB documents next to the columns that are queried.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, runs schema migrations and returns a
// ready-to-use store
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	ps := &PostgresStore{pool: pool}
	if err := ps.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return ps, nil
}

func (p *PostgresStore) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS scans (
			id         TEXT        PRIMARY KEY,
			status     TEXT        NOT NULL,
			data       JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);

		CREATE TABLE IF NOT EXISTS price_samples (
			seq            BIGSERIAL        PRIMARY KEY,
			id             TEXT             UNIQUE NOT NULL,
			scan_id        TEXT             NOT NULL REFERENCES scans(id),
			source         TEXT             NOT NULL,
			price          DOUBLE PRECISION NOT NULL CHECK (price > 0),
			currency       TEXT             NOT NULL DEFAULT 'EUR',
			condition_hint TEXT             NOT NULL DEFAULT '',
			url            TEXT             NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ      NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_price_samples_scan ON price_samples(scan_id);

		CREATE TABLE IF NOT EXISTS listing_drafts (
			id         TEXT        PRIMARY KEY,
			scan_id    TEXT        UNIQUE NOT NULL REFERENCES scans(id),
			data       JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

// CreateScan inserts a new scan
func (p *PostgresStore) CreateScan(ctx context.Context, scan *Scan) error {
	data, err := json.Marshal(scan)
	if err != nil {
		return fmt.Errorf("marshaling scan: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO scans (id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		scan.ID, string(scan.Status), data, scan.CreatedAt, scan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

func scanRow(row pgx.Row, id string) (*Scan, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: scan %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("selecting scan: %w", err)
	}
	var scan Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("unmarshaling scan: %w", err)
	}
	return &scan, nil
}

// GetScan retrieves a scan by ID
func (p *PostgresStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	return scanRow(p.pool.QueryRow(ctx, `SELECT data FROM scans WHERE id = $1`, id), id)
}

// UpdateScan locks the scan row, applies fn and writes it back in one
// transaction
func (p *PostgresStore) UpdateScan(ctx context.Context, id string, fn func(*Scan) error) (*Scan, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	scan, err := scanRow(tx.QueryRow(ctx, `SELECT data FROM scans WHERE id = $1 FOR UPDATE`, id), id)
	if err != nil {
		return nil, err
	}
	if err := fn(scan); err != nil {
		return nil, err
	}

	data, err := json.Marshal(scan)
	if err != nil {
		return nil, fmt.Errorf("marshaling scan: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE scans SET status = $2, data = $3, updated_at = $4 WHERE id = $1`,
		id, string(scan.Status), data, scan.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updating scan: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing scan update: %w", err)
	}
	return scan, nil
}

// ListScans returns scans filtered by status, oldest first
func (p *PostgresStore) ListScans(ctx context.Context, statuses ...Status) ([]*Scan, error) {
	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, string(s))
	}

	rows, err := p.pool.Query(ctx,
		`SELECT data FROM scans WHERE cardinality($1::text[]) = 0 OR status = ANY($1) ORDER BY created_at`,
		filter)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	scans := make([]*Scan, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		var scan Scan
		if err := json.Unmarshal(data, &scan); err != nil {
			return nil, fmt.Errorf("unmarshaling scan: %w", err)
		}
		scans = append(scans, &scan)
	}
	return scans, rows.Err()
}

// CreatePriceSample inserts an observation
func (p *PostgresStore) CreatePriceSample(ctx context.Context, sample *PriceSample) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO price_samples (id, scan_id, source, price, currency, condition_hint, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sample.ID, sample.ScanID, string(sample.Source), sample.Price, sample.Currency,
		sample.ConditionHint, sample.URL, sample.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting price sample: %w", err)
	}
	return nil
}

// ListPriceSamples returns a scan's observations in insertion order
func (p *PostgresStore) ListPriceSamples(ctx context.Context, scanID string) ([]*PriceSample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, scan_id, source, price, currency, condition_hint, url, created_at
		FROM price_samples WHERE scan_id = $1 ORDER BY seq`, scanID)
	if err != nil {
		return nil, fmt.Errorf("listing price samples: %w", err)
	}
	defer rows.Close()

	samples := make([]*PriceSample, 0)
	for rows.Next() {
		var (
			s      PriceSample
			source string
		)
		if err := rows.Scan(&s.ID, &s.ScanID, &source, &s.Price, &s.Currency, &s.ConditionHint, &s.URL, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning price sample: %w", err)
		}
		s.Source = PriceSource(source)
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}

// GetListingDraft returns the draft stored for a scan
func (p *PostgresStore) GetListingDraft(ctx context.Context, scanID string) (*ListingDraft, error) {
	var (
		data  []byte
		draft ListingDraft
	)
	err := p.pool.QueryRow(ctx,
		`SELECT id, data, created_at FROM listing_drafts WHERE scan_id = $1`, scanID).
		Scan(&draft.ID, &data, &draft.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: listing draft for scan %s", ErrNotFound, scanID)
		}
		return nil, fmt.Errorf("selecting listing draft: %w", err)
	}

	id, createdAt := draft.ID, draft.CreatedAt
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("unmarshaling listing draft: %w", err)
	}
	draft.ID, draft.CreatedAt = id, createdAt
	return &draft, nil
}

// UpsertListingDraft inserts the draft or replaces the fields of the existing
// one for the same scan
func (p *PostgresStore) UpsertListingDraft(ctx context.Context, draft *ListingDraft) (*ListingDraft, error) {
	saved := *draft
	data, err := json.Marshal(&saved)
	if err != nil {
		return nil, fmt.Errorf("marshaling listing draft: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO listing_drafts (id, scan_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scan_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		saved.ID, saved.ScanID, data, saved.CreatedAt, saved.UpdatedAt).
		Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting listing draft: %w", err)
	}
	return &saved, nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
