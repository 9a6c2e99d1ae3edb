package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/game-scanner/internal/pricing"
)

// Stub implements Backend with fixed, predictable responses and no network
// access. Its pricing is the reference pricing engine.
type Stub struct {
	delay time.Duration
}

// NewStub creates a Stub that waits delay before answering each call
func NewStub(delay time.Duration) *Stub {
	return &Stub{delay: delay}
}

func (s *Stub) wait(ctx context.Context) error {
	if s.delay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrBackend, ctx.Err())
	case <-time.After(s.delay):
		return nil
	}
}

// Recognize always identifies the photo as Catan
func (s *Stub) Recognize(ctx context.Context, image Image) (*Recognition, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	return &Recognition{
		Best: Candidate{
			Title:         "Die Siedler von Catan",
			Edition:       "Basisspiel",
			LanguageGuess: LanguageGerman,
			Confidence:    92,
		},
		Alternatives: []Candidate{
			{Title: "Catan - Das Spiel", Edition: "Jubiläumsausgabe", Confidence: 45},
			{Title: "Catan Universe", Confidence: 20},
		},
		Evidence: Evidence{
			VisibleText: []string{"CATAN", "KOSMOS", "Klaus Teuber"},
			VisualCues:  []string{"Hexagonal tiles visible", "Resource cards", "Wooden pieces"},
		},
		NeedsConfirmation: false,
	}, nil
}

// Normalize trims the user input and derives generic keywords
func (s *Stub) Normalize(ctx context.Context, req NormalizeRequest) (*Normalization, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.UserInput)
	return &Normalization{
		NormalizedTitle: title,
		Keywords:        []string{strings.ToLower(title), "brettspiel", "gesellschaftsspiel"},
	}, nil
}

// AnalyzePricing delegates to the pricing engine
func (s *Stub) AnalyzePricing(ctx context.Context, req PricingRequest) (*pricing.Result, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	result := pricing.Analyze(req.Condition, req.IsComplete, req.Samples)
	return &result, nil
}

// GenerateListing fills a fixed German template
func (s *Stub) GenerateListing(ctx context.Context, req ListingRequest) (*Listing, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	title := req.GameTitle
	condition := req.Condition.Label()

	completeness := "möglicherweise unvollständig"
	completeBullet := "Vollständigkeit prüfen"
	if req.IsComplete {
		completeness = "vollständig"
		completeBullet = "Vollständig"
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Verkaufe hier %q. Zustand: %s.\n\n", title, condition)
	fmt.Fprintf(&desc, "Das Spiel ist %s und wurde pfleglich behandelt.\n", completeness)
	if req.ShippingAvailable {
		desc.WriteString("\nVersand möglich")
	}
	if req.PickupLocation != "" {
		fmt.Fprintf(&desc, "\nAbholung in %s", req.PickupLocation)
	}
	if req.PaypalAvailable {
		desc.WriteString("\nPayPal akzeptiert")
	}
	desc.WriteString("\n\nBei Fragen einfach melden!")

	shipping := "Nur Abholung"
	if req.ShippingAvailable {
		shipping = "Versand möglich"
	}

	return &Listing{
		TitleVariants: []TitleVariant{
			{Title: fmt.Sprintf("%s - %s", title, condition), Style: StyleNeutral},
			{Title: fmt.Sprintf("%s - TOP Zustand!", title), Style: StyleUrgent},
			{Title: fmt.Sprintf("%s sucht neues Zuhause", title), Style: StyleFriendly},
		},
		Description: desc.String(),
		BulletPoints: []string{
			"Zustand: " + condition,
			"Sprache: " + req.Language.Label(),
			completeBullet,
			shipping,
			"Nichtraucherhaushalt",
		},
		SearchTags: []string{
			strings.Join(strings.Fields(strings.ToLower(title)), ""),
			"brettspiel",
			"gesellschaftsspiel",
			"spiel",
			"familienspiel",
		},
	}, nil
}

// Close is a no-op for the stub
func (s *Stub) Close() error {
	return nil
}
