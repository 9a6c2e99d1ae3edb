package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/zombor/game-scanner/internal/pricing"
)

// Prompt is a single request to a language model
type Prompt struct {
	System string
	User   string
	// Image is optional; only recognition sends one
	Image *Image
}

// Provider is a model transport that answers prompts with raw text
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Close() error
}

// Live implements Backend on top of a hosted or local language model
type Live struct {
	provider Provider
}

// NewLive creates a Live backend using provider
func NewLive(provider Provider) *Live {
	return &Live{provider: provider}
}

func (l *Live) complete(ctx context.Context, prompt Prompt) (string, error) {
	text, err := l.provider.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return text, nil
}

// Recognize identifies the game in image
func (l *Live) Recognize(ctx context.Context, image Image) (*Recognition, error) {
	text, err := l.complete(ctx, Prompt{
		System: recognitionSystemPrompt,
		User:   recognitionUserPrompt,
		Image:  &image,
	})
	if err != nil {
		return nil, fmt.Errorf("recognizing game: %w", err)
	}

	r, err := parseRecognition(text)
	if err != nil {
		return nil, fmt.Errorf("parsing recognition: %w", err)
	}
	return r, nil
}

// Normalize asks the model for a canonical title
func (l *Live) Normalize(ctx context.Context, req NormalizeRequest) (*Normalization, error) {
	text, err := l.complete(ctx, Prompt{
		System: normalizationSystemPrompt,
		User:   normalizationPrompt(req),
	})
	if err != nil {
		return nil, fmt.Errorf("normalizing title: %w", err)
	}

	n, err := parseNormalization(text)
	if err != nil {
		return nil, fmt.Errorf("parsing normalization: %w", err)
	}
	return n, nil
}

type pricingPayload struct {
	RecommendedPrice  float64  `json:"recommendedPrice"`
	QuickSalePrice    float64  `json:"quickSalePrice"`
	NegotiationAnchor float64  `json:"negotiationAnchor"`
	RangeLow          float64  `json:"rangeLow"`
	RangeHigh         float64  `json:"rangeHigh"`
	ReasoningBullets  []string `json:"reasoningBullets"`
	Confidence        float64  `json:"confidence"`
}

// AnalyzePricing asks the model to judge the observations
func (l *Live) AnalyzePricing(ctx context.Context, req PricingRequest) (*pricing.Result, error) {
	text, err := l.complete(ctx, Prompt{
		System: pricingSystemPrompt,
		User:   pricingPrompt(req),
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing pricing: %w", err)
	}

	var p pricingPayload
	if err := decodeResponse(text, &p); err != nil {
		return nil, fmt.Errorf("parsing pricing: %w", err)
	}

	result := &pricing.Result{
		Figures: pricing.Figures{
			RecommendedPrice:  int(math.Round(p.RecommendedPrice)),
			QuickSalePrice:    int(math.Round(p.QuickSalePrice)),
			NegotiationAnchor: int(math.Round(p.NegotiationAnchor)),
			RangeLow:          int(math.Round(p.RangeLow)),
			RangeHigh:         int(math.Round(p.RangeHigh)),
		},
		ReasoningBullets: p.ReasoningBullets,
		Confidence:       int(math.Round(p.Confidence)),
	}
	if result.ReasoningBullets == nil {
		result.ReasoningBullets = []string{}
	}
	if err := ValidatePricing(result); err != nil {
		return nil, fmt.Errorf("parsing pricing: %w", err)
	}
	return result, nil
}

// GenerateListing asks the model to write the listing
func (l *Live) GenerateListing(ctx context.Context, req ListingRequest) (*Listing, error) {
	text, err := l.complete(ctx, Prompt{
		System: listingSystemPrompt,
		User:   listingPrompt(req),
	})
	if err != nil {
		return nil, fmt.Errorf("generating listing: %w", err)
	}

	listing, err := parseListing(text)
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}
	return listing, nil
}

// Close closes the underlying provider
func (l *Live) Close() error {
	return l.provider.Close()
}
