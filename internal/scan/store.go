package scan

import "context"

// Store defines the persistence operations of the pipeline
type Store interface {
	// CreateScan saves a new scan
	CreateScan(ctx context.Context, scan *Scan) error

	// GetScan retrieves a scan by ID; unknown ids yield ErrNotFound
	GetScan(ctx context.Context, id string) (*Scan, error)

	// UpdateScan reads the scan fresh, applies fn and saves the result
	// atomically. When fn returns an error nothing is written.
	UpdateScan(ctx context.Context, id string, fn func(*Scan) error) (*Scan, error)

	// ListScans returns scans having any of the given statuses, or all
	// scans when none are given
	ListScans(ctx context.Context, statuses ...Status) ([]*Scan, error)

	// CreatePriceSample appends a price observation to a scan
	CreatePriceSample(ctx context.Context, sample *PriceSample) error

	// ListPriceSamples returns a scan's observations in insertion order
	ListPriceSamples(ctx context.Context, scanID string) ([]*PriceSample, error)

	// GetListingDraft returns a scan's draft; missing drafts yield ErrNotFound
	GetListingDraft(ctx context.Context, scanID string) (*ListingDraft, error)

	// UpsertListingDraft creates or replaces a scan's draft, keeping the
	// identity of an existing row
	UpsertListingDraft(ctx context.Context, draft *ListingDraft) (*ListingDraft, error)

	// Ping reports whether the store is reachable
	Ping(ctx context.Context) error

	// Close closes the store
	Close() error
}
