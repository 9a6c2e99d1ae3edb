package scan

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/game-scanner/internal/inference"
)

// itBehavesLikeAStore declares the specs every Store implementation must pass
func itBehavesLikeAStore(newStore func() Store) {
	var (
		store Store
		ctx   context.Context
		now   time.Time
	)

	BeforeEach(func() {
		store = newStore()
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
			store = nil
		}
	})

	newScan := func(id string, status Status) *Scan {
		return &Scan{
			ID:            id,
			Status:        status,
			ImageRef:      id + ".jpg",
			ImageMIMEType: StoredMIMEType,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	Describe("CreateScan and GetScan", func() {
		It("should round-trip a scan", func() {
			scan := newScan("scan-1", StatusAnalyzed)
			scan.Candidates = []inference.Candidate{{Title: "Catan", Confidence: 92}}
			scan.Evidence = &inference.Evidence{VisibleText: []string{"CATAN"}}
			Expect(store.CreateScan(ctx, scan)).To(Succeed())

			got, err := store.GetScan(ctx, "scan-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusAnalyzed))
			Expect(got.Candidates).To(Equal(scan.Candidates))
			Expect(got.Evidence.VisibleText).To(ConsistOf("CATAN"))
			Expect(got.CreatedAt.Equal(now)).To(BeTrue())
		})

		It("should return ErrNotFound for unknown ids", func() {
			_, err := store.GetScan(ctx, "missing")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("UpdateScan", func() {
		BeforeEach(func() {
			Expect(store.CreateScan(ctx, newScan("scan-1", StatusUploaded))).To(Succeed())
		})

		It("should persist the changes made by fn", func() {
			updated, err := store.UpdateScan(ctx, "scan-1", func(s *Scan) error {
				return Transition(s, StatusAnalyzing)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(StatusAnalyzing))

			got, _ := store.GetScan(ctx, "scan-1")
			Expect(got.Status).To(Equal(StatusAnalyzing))
		})

		It("should write nothing when fn fails", func() {
			_, err := store.UpdateScan(ctx, "scan-1", func(s *Scan) error {
				s.ErrorMessage = "changed"
				return Transition(s, StatusDrafted)
			})
			Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())

			got, _ := store.GetScan(ctx, "scan-1")
			Expect(got.Status).To(Equal(StatusUploaded))
			Expect(got.ErrorMessage).To(BeEmpty())
		})

		It("should return ErrNotFound for unknown ids", func() {
			_, err := store.UpdateScan(ctx, "missing", func(s *Scan) error { return nil })
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListScans", func() {
		BeforeEach(func() {
			Expect(store.CreateScan(ctx, newScan("a", StatusUploaded))).To(Succeed())
			Expect(store.CreateScan(ctx, newScan("b", StatusAnalyzing))).To(Succeed())
			Expect(store.CreateScan(ctx, newScan("c", StatusDrafted))).To(Succeed())
		})

		It("should filter by status", func() {
			scans, err := store.ListScans(ctx, StatusUploaded, StatusAnalyzing)
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, s := range scans {
				ids = append(ids, s.ID)
			}
			Expect(ids).To(ConsistOf("a", "b"))
		})

		It("should return every scan without a filter", func() {
			scans, err := store.ListScans(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(scans).To(HaveLen(3))
		})
	})

	Describe("price samples", func() {
		BeforeEach(func() {
			Expect(store.CreateScan(ctx, newScan("scan-1", StatusPricing))).To(Succeed())
			Expect(store.CreateScan(ctx, newScan("scan-2", StatusPricing))).To(Succeed())
		})

		It("should list a scan's samples in insertion order", func() {
			for i, price := range []float64{30, 20, 25} {
				Expect(store.CreatePriceSample(ctx, &PriceSample{
					ID:        "sample-" + string(rune('a'+i)),
					ScanID:    "scan-1",
					Source:    SourceManual,
					Price:     price,
					Currency:  Currency,
					CreatedAt: now,
				})).To(Succeed())
			}
			Expect(store.CreatePriceSample(ctx, &PriceSample{
				ID: "other", ScanID: "scan-2", Source: SourceManual, Price: 99, Currency: Currency, CreatedAt: now,
			})).To(Succeed())

			samples, err := store.ListPriceSamples(ctx, "scan-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(HaveLen(3))
			Expect(samples[0].Price).To(Equal(30.0))
			Expect(samples[1].Price).To(Equal(20.0))
			Expect(samples[2].Price).To(Equal(25.0))
		})

		It("should return an empty list for a scan without samples", func() {
			samples, err := store.ListPriceSamples(ctx, "scan-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(samples).To(BeEmpty())
		})

		It("should reject samples for unknown scans", func() {
			err := store.CreatePriceSample(ctx, &PriceSample{
				ID: "x", ScanID: "missing", Source: SourceManual, Price: 10, Currency: Currency, CreatedAt: now,
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("listing drafts", func() {
		BeforeEach(func() {
			Expect(store.CreateScan(ctx, newScan("scan-1", StatusDrafting))).To(Succeed())
		})

		It("should return ErrNotFound before a draft exists", func() {
			_, err := store.GetListingDraft(ctx, "scan-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should keep one row per scan across upserts", func() {
			first, err := store.UpsertListingDraft(ctx, &ListingDraft{
				ID:          "draft-1",
				ScanID:      "scan-1",
				Description: "erste Version",
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ID).To(Equal("draft-1"))

			later := now.Add(time.Hour)
			second, err := store.UpsertListingDraft(ctx, &ListingDraft{
				ID:             "draft-2",
				ScanID:         "scan-1",
				Description:    "zweite Version",
				SuggestedPrice: 30,
				CreatedAt:      later,
				UpdatedAt:      later,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal("draft-1"))
			Expect(second.CreatedAt.Equal(now)).To(BeTrue())

			got, err := store.GetListingDraft(ctx, "scan-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("draft-1"))
			Expect(got.Description).To(Equal("zweite Version"))
			Expect(got.SuggestedPrice).To(Equal(30.0))
		})
	})

	Describe("Ping", func() {
		It("should succeed on an open store", func() {
			Expect(store.Ping(ctx)).To(Succeed())
		})
	})
}
