package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	scanBucketName   = "scans"
	sampleBucketName = "price_samples"
	draftBucketName  = "listing_drafts"
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates a BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{scanBucketName, sampleBucketName, draftBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func getScan(tx *bbolt.Tx, id string) (*Scan, error) {
	data := tx.Bucket([]byte(scanBucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: scan %s", ErrNotFound, id)
	}
	var scan Scan
	if err := json.Unmarshal(data, &scan); err != nil {
		return nil, fmt.Errorf("unmarshaling scan: %w", err)
	}
	return &scan, nil
}

func putJSON(bucket *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return bucket.Put([]byte(key), data)
}

// CreateScan saves a new scan
func (b *BoltStore) CreateScan(ctx context.Context, scan *Scan) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		if bucket.Get([]byte(scan.ID)) != nil {
			return fmt.Errorf("scan %s already exists", scan.ID)
		}
		return putJSON(bucket, scan.ID, scan)
	})
}

// GetScan retrieves a scan by ID
func (b *BoltStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	var scan *Scan
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		scan, err = getScan(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// UpdateScan applies fn to the stored scan inside one write transaction
func (b *BoltStore) UpdateScan(ctx context.Context, id string, fn func(*Scan) error) (*Scan, error) {
	var scan *Scan
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		scan, err = getScan(tx, id)
		if err != nil {
			return err
		}
		if err := fn(scan); err != nil {
			return err
		}
		return putJSON(tx.Bucket([]byte(scanBucketName)), id, scan)
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScans returns scans filtered by status
func (b *BoltStore) ListScans(ctx context.Context, statuses ...Status) ([]*Scan, error) {
	scans := make([]*Scan, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(scanBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var scan Scan
			if err := json.Unmarshal(v, &scan); err != nil {
				return fmt.Errorf("unmarshaling scan: %w", err)
			}
			if len(statuses) == 0 || scan.Status.in(statuses...) {
				scans = append(scans, &scan)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return scans, nil
}

// samplePrefix groups a scan's samples; keys sort by insertion sequence
func samplePrefix(scanID string) string {
	return scanID + "/"
}

// CreatePriceSample appends a sample under the scan's key prefix
func (b *BoltStore) CreatePriceSample(ctx context.Context, sample *PriceSample) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getScan(tx, sample.ScanID); err != nil {
			return err
		}
		bucket := tx.Bucket([]byte(sampleBucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sample sequence: %w", err)
		}
		key := fmt.Sprintf("%s%020d", samplePrefix(sample.ScanID), seq)
		return putJSON(bucket, key, sample)
	})
}

// ListPriceSamples returns a scan's samples in insertion order
func (b *BoltStore) ListPriceSamples(ctx context.Context, scanID string) ([]*PriceSample, error) {
	samples := make([]*PriceSample, 0)
	prefix := []byte(samplePrefix(scanID))
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(sampleBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sample PriceSample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("unmarshaling price sample: %w", err)
			}
			samples = append(samples, &sample)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// GetListingDraft retrieves the draft stored for a scan
func (b *BoltStore) GetListingDraft(ctx context.Context, scanID string) (*ListingDraft, error) {
	var draft *ListingDraft
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(draftBucketName)).Get([]byte(scanID))
		if data == nil {
			return fmt.Errorf("%w: listing draft for scan %s", ErrNotFound, scanID)
		}
		return json.Unmarshal(data, &draft)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// UpsertListingDraft stores the draft keyed by scan ID. An existing draft
// keeps its ID and creation time.
func (b *BoltStore) UpsertListingDraft(ctx context.Context, draft *ListingDraft) (*ListingDraft, error) {
	saved := *draft
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getScan(tx, draft.ScanID); err != nil {
			return err
		}
		bucket := tx.Bucket([]byte(draftBucketName))
		if data := bucket.Get([]byte(draft.ScanID)); data != nil {
			var existing ListingDraft
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling listing draft: %w", err)
			}
			saved.ID = existing.ID
			saved.CreatedAt = existing.CreatedAt
		}
		return putJSON(bucket, draft.ScanID, &saved)
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// Ping checks that the database is open
func (b *BoltStore) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(scanBucketName)) == nil {
			return fmt.Errorf("scans bucket missing")
		}
		return nil
	})
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
