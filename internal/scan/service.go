package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/game-scanner/internal/inference"
	"github.com/zombor/game-scanner/internal/pricing"
)

// IDGenerator generates unique IDs for scans, samples and drafts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

const (
	draftConfidence         = 70
	defaultStageTimeout     = 90 * time.Second
	recognitionInterrupted  = "recognition interrupted"
	pricingInterrupted      = "pricing interrupted"
	draftingInterrupted     = "draft generation interrupted"
	defaultRecognitionQueue = 64
	defaultRequeueInterval  = 30 * time.Second
)

// Options tunes the pipeline
type Options struct {
	// StageTimeout bounds every inference call; expiry moves the scan to ERROR
	StageTimeout time.Duration
	// AIPricing appends the backend's pricing reasoning to the engine's
	AIPricing bool
	// Workers and QueueSize size the recognition queue
	Workers   int
	QueueSize int
	// RequeueInterval is how often Run re-queues scans left UPLOADED by a
	// full queue; zero disables the sweep
	RequeueInterval time.Duration
}

// Service drives scans through recognition, confirmation, pricing and
// listing generation
type Service struct {
	store       Store
	files       FileStore
	backend     inference.Backend
	dispatcher  Dispatcher
	queue       *Queue
	idGenerator IDGenerator
	timeSource  TimeSource
	opts        Options
}

// NewService creates a Service with its own recognition queue. The queue
// starts working when Run is called.
func NewService(store Store, files FileStore, backend inference.Backend, opts Options) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultRecognitionQueue
	}
	if opts.RequeueInterval <= 0 {
		opts.RequeueInterval = defaultRequeueInterval
	}
	s := NewServiceWithDeps(store, files, backend, opts, nil, &defaultIDGenerator{}, &defaultTimeSource{})
	s.queue = NewQueue(opts.Workers, opts.QueueSize, s.Recognize)
	s.dispatcher = s.queue
	return s
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, files FileStore, backend inference.Backend, opts Options, dispatcher Dispatcher, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	return &Service{
		store:       store,
		files:       files,
		backend:     backend,
		dispatcher:  dispatcher,
		idGenerator: idGen,
		timeSource:  timeSrc,
		opts:        opts,
	}
}

// Run works the recognition queue until ctx is cancelled, first re-queuing
// scans that never started recognition
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.queue != nil {
		g.Go(func() error {
			return s.queue.Run(ctx)
		})
	}
	g.Go(func() error {
		return s.requeuePending(ctx)
	})
	if s.opts.RequeueInterval > 0 {
		g.Go(func() error {
			s.sweepPending(ctx)
			return nil
		})
	}
	return g.Wait()
}

// Recover fails scans a previous process left in a working status. It must
// run before the service accepts requests or starts its queue.
func (s *Service) Recover(ctx context.Context) error {
	stuck, err := s.store.ListScans(ctx, StatusAnalyzing, StatusPricing, StatusDrafting)
	if err != nil {
		return fmt.Errorf("listing interrupted scans: %w", err)
	}
	for _, scan := range stuck {
		msg := recognitionInterrupted
		switch scan.Status {
		case StatusPricing:
			msg = pricingInterrupted
		case StatusDrafting:
			msg = draftingInterrupted
		}
		slog.Warn("Failing interrupted scan", "scan_id", scan.ID, "status", scan.Status)
		s.fail(ctx, scan.ID, errors.New(msg))
	}
	return nil
}

func (s *Service) requeuePending(ctx context.Context) error {
	pending, err := s.store.ListScans(ctx, StatusUploaded)
	if err != nil {
		return fmt.Errorf("listing pending scans: %w", err)
	}
	for _, scan := range pending {
		if err := s.dispatcher.Submit(ctx, scan.ID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("re-queuing scan %s: %w", scan.ID, err)
		}
	}
	if len(pending) > 0 {
		slog.Info("Re-queued pending scans", "count", len(pending))
	}
	return nil
}

// sweepPending periodically offers UPLOADED scans to the queue again, stopping
// each round at the first full buffer
func (s *Service) sweepPending(ctx context.Context) {
	ticker := time.NewTicker(s.opts.RequeueInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := s.store.ListScans(ctx, StatusUploaded)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Failed to list pending scans", "error", err)
			}
			continue
		}
		for _, scan := range pending {
			if err := s.dispatcher.TrySubmit(scan.ID); err != nil {
				if errors.Is(err, ErrQueueStopped) {
					return
				}
				break
			}
		}
	}
}

// stageContext returns the context a stage's backend call runs under. It is
// detached from the caller so a disconnect cannot leave the scan in a working
// status, and bounded by the stage timeout.
func (s *Service) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.StageTimeout)
}

// fail moves a working scan to ERROR with err's message
func (s *Service) fail(ctx context.Context, id string, cause error) {
	_, err := s.store.UpdateScan(context.WithoutCancel(ctx), id, func(scan *Scan) error {
		if err := Transition(scan, StatusError); err != nil {
			return err
		}
		scan.ErrorMessage = cause.Error()
		scan.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		slog.Error("Failed to record scan error", "scan_id", id, "cause", cause, "error", err)
	}
}

// defect logs an invariant violation and reports it as an internal error
func defect(id string, err error) error {
	if errors.Is(err, ErrInvalidTransition) {
		slog.Error("Scan invariant violated", "scan_id", id, "error", err)
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return err
}

// CreateScan stores the photo, records a new UPLOADED scan and queues it for
// recognition. It returns before recognition starts.
func (s *Service) CreateScan(ctx context.Context, data []byte, mimeType, sessionID string) (*Scan, error) {
	stored, err := s.files.Save(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	now := s.timeSource.Now()
	scan := &Scan{
		ID:            s.idGenerator.Generate(),
		Status:        StatusUploaded,
		ImageRef:      stored.Ref,
		ImageMIMEType: stored.MIMEType,
		ImageSize:     stored.Size,
		SessionID:     sessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateScan(ctx, scan); err != nil {
		if delErr := s.files.Delete(stored.Ref); delErr != nil {
			slog.Warn("Failed to delete image", "ref", stored.Ref, "error", delErr)
		}
		return nil, fmt.Errorf("saving scan: %w", err)
	}

	// A scan that cannot be queued now stays UPLOADED and is picked up by
	// Run's next sweep.
	if err := s.dispatcher.TrySubmit(scan.ID); err != nil {
		slog.Warn("Failed to queue scan for recognition", "scan_id", scan.ID, "error", err)
	}

	slog.Info("Created scan", "scan_id", scan.ID, "image_size", stored.Size)
	return scan, nil
}

// Recognize runs recognition for an UPLOADED scan. Failures are recorded on
// the scan; the returned error is only for logging.
func (s *Service) Recognize(ctx context.Context, id string) error {
	scan, err := s.store.UpdateScan(ctx, id, func(scan *Scan) error {
		if scan.Status != StatusUploaded {
			return fmt.Errorf("%w: scan %s is %s", ErrScanNotReady, id, scan.Status)
		}
		scan.UpdatedAt = s.timeSource.Now()
		return Transition(scan, StatusAnalyzing)
	})
	if errors.Is(err, ErrScanNotReady) {
		// Already picked up, e.g. queued again by requeuePending
		slog.Warn("Skipping recognition", "scan_id", id, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting recognition: %w", defect(id, err))
	}

	recognition, err := s.recognize(ctx, scan)
	if err != nil {
		slog.Error("Recognition failed", "scan_id", id, "error", err)
		s.fail(ctx, id, err)
		return nil
	}

	_, err = s.store.UpdateScan(context.WithoutCancel(ctx), id, func(scan *Scan) error {
		if err := Transition(scan, StatusAnalyzed); err != nil {
			return err
		}
		evidence := recognition.Evidence
		scan.Candidates = recognition.Candidates()
		scan.Evidence = &evidence
		scan.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		s.fail(ctx, id, err)
		return fmt.Errorf("saving recognition: %w", defect(id, err))
	}

	slog.Info("Recognized scan", "scan_id", id, "title", recognition.Best.Title, "confidence", recognition.Best.Confidence)
	return nil
}

func (s *Service) recognize(ctx context.Context, scan *Scan) (*inference.Recognition, error) {
	encoded, err := s.files.ReadAsBase64(scan.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}

	callCtx, cancel := s.stageContext(ctx)
	defer cancel()

	recognition, err := s.backend.Recognize(callCtx, inference.Image{
		Base64:   encoded,
		MIMEType: scan.ImageMIMEType,
	})
	if err != nil {
		return nil, err
	}
	if err := inference.ValidateRecognition(recognition); err != nil {
		return nil, err
	}
	return recognition, nil
}

// ScanDetails is a scan with its price samples and listing draft
type ScanDetails struct {
	*Scan
	Samples []*PriceSample
	Draft   *ListingDraft
}

// GetScan retrieves a scan with its samples and draft
func (s *Service) GetScan(ctx context.Context, id string) (*ScanDetails, error) {
	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}

	samples, err := s.store.ListPriceSamples(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing price samples: %w", err)
	}

	draft, err := s.store.GetListingDraft(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("getting listing draft: %w", err)
	}

	return &ScanDetails{Scan: scan, Samples: samples, Draft: draft}, nil
}

// GetScanImage returns the stored photo of a scan and its mime type
func (s *Service) GetScanImage(ctx context.Context, id string) ([]byte, string, error) {
	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}

	data, err := s.files.Get(scan.ImageRef)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan image: %w", err)
	}
	return data, scan.ImageMIMEType, nil
}

// ConfirmResult is the outcome of a confirmation
type ConfirmResult struct {
	ScanID          string   `json:"scanId"`
	NormalizedTitle string   `json:"normalizedTitle"`
	Keywords        []string `json:"keywords"`
	Status          Status   `json:"status"`
}

// ConfirmScan records the user's confirmed attributes on an ANALYZED or
// PRICED scan. Status is left unchanged, and existing samples and drafts are
// kept as they are.
func (s *Service) ConfirmScan(ctx context.Context, id string, in ConfirmInput) (*ConfirmResult, error) {
	confirmable := func(scan *Scan) error {
		if !scan.Status.in(StatusAnalyzed, StatusPriced) {
			return fmt.Errorf("%w: scan must be analyzed before confirmation, scan %s is %s", ErrScanNotReady, id, scan.Status)
		}
		return nil
	}

	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	if err := confirmable(scan); err != nil {
		return nil, err
	}

	req := inference.NormalizeRequest{UserInput: in.Title}
	if len(scan.Candidates) > 0 {
		req.OriginalSuggestion = scan.Candidates[0].Title
	}

	callCtx, cancel := s.stageContext(ctx)
	defer cancel()

	normalization, err := s.backend.Normalize(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("normalizing title: %w", err)
	}
	if err := inference.ValidateNormalization(normalization); err != nil {
		return nil, fmt.Errorf("normalizing title: %w", err)
	}

	isComplete := in.IsComplete != nil && *in.IsComplete
	scan, err = s.store.UpdateScan(ctx, id, func(scan *Scan) error {
		// Status may have moved while normalization ran
		if err := confirmable(scan); err != nil {
			return err
		}
		scan.ConfirmedTitle = in.Title
		scan.ConfirmedEdition = in.Edition
		scan.ConfirmedLanguage = in.Language
		scan.ConfirmedCondition = in.Condition
		scan.IsComplete = isComplete
		scan.NormalizedTitle = normalization.NormalizedTitle
		scan.Keywords = normalization.Keywords
		scan.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving confirmation: %w", err)
	}

	slog.Info("Confirmed scan", "scan_id", id, "title", scan.ConfirmedTitle, "normalized_title", scan.NormalizedTitle)
	return &ConfirmResult{
		ScanID:          id,
		NormalizedTitle: scan.NormalizedTitle,
		Keywords:        scan.Keywords,
		Status:          scan.Status,
	}, nil
}

// PricingResult is a price recommendation with the samples it is based on
type PricingResult struct {
	ScanID string `json:"scanId"`
	pricing.Figures
	Samples          []*PriceSample `json:"samples"`
	ReasoningBullets []string       `json:"reasoningBullets"`
	Confidence       int            `json:"confidence"`
}

// CalculatePricing stores the manual prices and computes a recommendation
// for a confirmed scan. Without manual prices an estimated sample is used,
// which is returned but not stored.
func (s *Service) CalculatePricing(ctx context.Context, id string, in PricingInput) (*PricingResult, error) {
	scan, err := s.store.UpdateScan(ctx, id, func(scan *Scan) error {
		if !scan.Confirmed() {
			return fmt.Errorf("%w: scan must be confirmed before pricing", ErrScanNotReady)
		}
		if !scan.Status.in(StatusAnalyzed, StatusPriced) {
			return fmt.Errorf("%w: scan %s is %s", ErrScanNotReady, id, scan.Status)
		}
		scan.UpdatedAt = s.timeSource.Now()
		return Transition(scan, StatusPricing)
	})
	if err != nil {
		return nil, fmt.Errorf("starting pricing: %w", defect(id, err))
	}

	result, err := s.price(ctx, scan, in)
	if err != nil {
		s.fail(ctx, id, err)
		return nil, err
	}

	_, err = s.store.UpdateScan(context.WithoutCancel(ctx), id, func(scan *Scan) error {
		scan.UpdatedAt = s.timeSource.Now()
		return Transition(scan, StatusPriced)
	})
	if err != nil {
		s.fail(ctx, id, err)
		return nil, fmt.Errorf("finishing pricing: %w", defect(id, err))
	}

	slog.Info("Priced scan", "scan_id", id, "recommended_price", result.RecommendedPrice, "samples", len(result.Samples))
	return result, nil
}

func (s *Service) price(ctx context.Context, scan *Scan, in PricingInput) (*PricingResult, error) {
	storeCtx := context.WithoutCancel(ctx)

	samples := make([]*PriceSample, 0, len(in.ManualPrices))
	for _, mp := range in.ManualPrices {
		sample := &PriceSample{
			ID:            s.idGenerator.Generate(),
			ScanID:        scan.ID,
			Source:        SourceManual,
			Price:         mp.Price,
			Currency:      Currency,
			ConditionHint: mp.ConditionHint,
			CreatedAt:     s.timeSource.Now(),
		}
		if err := s.store.CreatePriceSample(storeCtx, sample); err != nil {
			return nil, fmt.Errorf("saving price sample: %w", err)
		}
		samples = append(samples, sample)
	}

	if len(samples) == 0 {
		estimate := pricing.DefaultSample()
		samples = append(samples, &PriceSample{
			ScanID:        scan.ID,
			Source:        PriceSource(estimate.Source),
			Price:         estimate.Price,
			Currency:      Currency,
			ConditionHint: estimate.ConditionHint,
			CreatedAt:     s.timeSource.Now(),
		})
	}

	observations := make([]pricing.Sample, 0, len(samples))
	for _, sample := range samples {
		observations = append(observations, sample.sample())
	}

	result := pricing.Analyze(scan.ConfirmedCondition, scan.IsComplete, observations)
	if s.opts.AIPricing {
		result.ReasoningBullets = appendMissing(result.ReasoningBullets, s.analyzePricing(ctx, scan, observations)...)
	}

	return &PricingResult{
		ScanID:           scan.ID,
		Figures:          result.Figures,
		Samples:          samples,
		ReasoningBullets: result.ReasoningBullets,
		Confidence:       result.Confidence,
	}, nil
}

// analyzePricing asks the backend for additional reasoning. The engine's
// figures stand on their own, so a failure here only drops the extra bullets.
func (s *Service) analyzePricing(ctx context.Context, scan *Scan, observations []pricing.Sample) []string {
	callCtx, cancel := s.stageContext(ctx)
	defer cancel()

	result, err := s.backend.AnalyzePricing(callCtx, inference.PricingRequest{
		GameTitle:  scan.ConfirmedTitle,
		Edition:    scan.ConfirmedEdition,
		Condition:  scan.ConfirmedCondition,
		Language:   scan.ConfirmedLanguage,
		IsComplete: scan.IsComplete,
		Samples:    observations,
	})
	if err == nil {
		err = inference.ValidatePricing(result)
	}
	if err != nil {
		slog.Warn("AI pricing analysis failed", "scan_id", scan.ID, "error", err)
		return nil
	}
	return result.ReasoningBullets
}

func appendMissing(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}

// DraftMetadata echoes the confirmed attributes a draft was written for
type DraftMetadata struct {
	GameTitle  string             `json:"gameTitle"`
	Condition  pricing.Condition  `json:"condition"`
	Language   inference.Language `json:"language"`
	IsComplete bool               `json:"isComplete"`
}

// DraftResult is a generated listing
type DraftResult struct {
	ScanID         string                   `json:"scanId"`
	DraftID        string                   `json:"draftId"`
	TitleVariants  []inference.TitleVariant `json:"titleVariants"`
	Description    string                   `json:"description"`
	BulletPoints   []string                 `json:"bulletPoints"`
	SearchTags     []string                 `json:"searchTags"`
	SuggestedPrice float64                  `json:"suggestedPrice"`
	Metadata       DraftMetadata            `json:"metadata"`
}

// GenerateDraft writes listing text for a confirmed scan and stores it as
// the scan's single draft
func (s *Service) GenerateDraft(ctx context.Context, id string, in DraftInput) (*DraftResult, error) {
	scan, err := s.store.UpdateScan(ctx, id, func(scan *Scan) error {
		if !scan.Confirmed() {
			return fmt.Errorf("%w: scan must be confirmed before generating draft", ErrScanNotReady)
		}
		if !scan.Status.in(StatusAnalyzed, StatusPriced, StatusDrafted) {
			return fmt.Errorf("%w: scan %s is %s", ErrScanNotReady, id, scan.Status)
		}
		scan.UpdatedAt = s.timeSource.Now()
		return Transition(scan, StatusDrafting)
	})
	if err != nil {
		return nil, fmt.Errorf("starting draft: %w", defect(id, err))
	}

	draft, err := s.draft(ctx, scan, in)
	if err != nil {
		s.fail(ctx, id, err)
		return nil, err
	}

	_, err = s.store.UpdateScan(context.WithoutCancel(ctx), id, func(scan *Scan) error {
		scan.UpdatedAt = s.timeSource.Now()
		return Transition(scan, StatusDrafted)
	})
	if err != nil {
		s.fail(ctx, id, err)
		return nil, fmt.Errorf("finishing draft: %w", defect(id, err))
	}

	slog.Info("Drafted listing", "scan_id", id, "draft_id", draft.ID, "price", in.Price)
	return &DraftResult{
		ScanID:         id,
		DraftID:        draft.ID,
		TitleVariants:  draft.TitleVariants,
		Description:    draft.Description,
		BulletPoints:   draft.BulletPoints,
		SearchTags:     draft.SearchTags,
		SuggestedPrice: draft.SuggestedPrice,
		Metadata: DraftMetadata{
			GameTitle:  scan.ConfirmedTitle,
			Condition:  scan.ConfirmedCondition,
			Language:   scan.ConfirmedLanguage,
			IsComplete: scan.IsComplete,
		},
	}, nil
}

func (s *Service) draft(ctx context.Context, scan *Scan, in DraftInput) (*ListingDraft, error) {
	callCtx, cancel := s.stageContext(ctx)
	defer cancel()

	listing, err := s.backend.GenerateListing(callCtx, inference.ListingRequest{
		GameTitle:         scan.ConfirmedTitle,
		Edition:           scan.ConfirmedEdition,
		Condition:         scan.ConfirmedCondition,
		Language:          scan.ConfirmedLanguage,
		IsComplete:        scan.IsComplete,
		Price:             in.Price,
		PickupLocation:    in.PickupLocation,
		ShippingAvailable: in.ShippingAvailable,
		PaypalAvailable:   in.PaypalAvailable,
		AdditionalNotes:   in.AdditionalNotes,
	})
	if err != nil {
		return nil, fmt.Errorf("generating listing: %w", err)
	}
	if err := inference.ValidateListing(listing); err != nil {
		return nil, fmt.Errorf("generating listing: %w", err)
	}

	figures := pricing.Derive(in.Price)
	now := s.timeSource.Now()
	draft, err := s.store.UpsertListingDraft(context.WithoutCancel(ctx), &ListingDraft{
		ID:                s.idGenerator.Generate(),
		ScanID:            scan.ID,
		TitleVariants:     listing.TitleVariants,
		Description:       listing.Description,
		BulletPoints:      listing.BulletPoints,
		SearchTags:        listing.SearchTags,
		SuggestedPrice:    in.Price,
		QuickSalePrice:    figures.QuickSalePrice,
		NegotiationAnchor: figures.NegotiationAnchor,
		RangeLow:          figures.RangeLow,
		RangeHigh:         figures.RangeHigh,
		ReasoningBullets:  []string{},
		Confidence:        draftConfidence,
		PickupLocation:    in.PickupLocation,
		ShippingAvailable: in.ShippingAvailable,
		PaypalAvailable:   in.PaypalAvailable,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("saving listing draft: %w", err)
	}
	return draft, nil
}

// Ping reports whether the store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// QueueLen returns the number of scans waiting for recognition
func (s *Service) QueueLen() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}
