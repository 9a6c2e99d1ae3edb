package inference

import (
	"fmt"
	"strings"

	"github.com/zombor/game-scanner/internal/pricing"
)

// Structural contract of a generated listing
const (
	TitleVariantCount = 3
	BulletPointCount  = 5
	SearchTagCount    = 5
)

// ValidateRecognition checks a recognition result against the backend contract
func ValidateRecognition(r *Recognition) error {
	if r == nil {
		return fmt.Errorf("%w: empty recognition result", ErrBackend)
	}
	for i, c := range r.Candidates() {
		if strings.TrimSpace(c.Title) == "" {
			return fmt.Errorf("%w: candidate %d has no title", ErrBackend, i)
		}
		if c.Confidence < 0 || c.Confidence > 100 {
			return fmt.Errorf("%w: candidate %d confidence %d out of range", ErrBackend, i, c.Confidence)
		}
		if c.LanguageGuess != "" && !c.LanguageGuess.Valid() {
			return fmt.Errorf("%w: candidate %d has unknown language %q", ErrBackend, i, c.LanguageGuess)
		}
	}
	return nil
}

// ValidateNormalization checks a normalization result
func ValidateNormalization(n *Normalization) error {
	if n == nil || strings.TrimSpace(n.NormalizedTitle) == "" {
		return fmt.Errorf("%w: normalization returned no title", ErrBackend)
	}
	return nil
}

// ValidateListing enforces the exact listing shape. Responses are never padded
// or truncated.
func ValidateListing(l *Listing) error {
	if l == nil {
		return fmt.Errorf("%w: empty listing result", ErrBackend)
	}
	if len(l.TitleVariants) != TitleVariantCount {
		return fmt.Errorf("%w: expected %d title variants, got %d", ErrBackend, TitleVariantCount, len(l.TitleVariants))
	}
	if len(l.BulletPoints) != BulletPointCount {
		return fmt.Errorf("%w: expected %d bullet points, got %d", ErrBackend, BulletPointCount, len(l.BulletPoints))
	}
	if len(l.SearchTags) != SearchTagCount {
		return fmt.Errorf("%w: expected %d search tags, got %d", ErrBackend, SearchTagCount, len(l.SearchTags))
	}
	for i, v := range l.TitleVariants {
		switch v.Style {
		case StyleNeutral, StyleUrgent, StyleFriendly:
		default:
			return fmt.Errorf("%w: title variant %d has unknown style %q", ErrBackend, i, v.Style)
		}
		if strings.TrimSpace(v.Title) == "" {
			return fmt.Errorf("%w: title variant %d is empty", ErrBackend, i)
		}
	}
	if strings.TrimSpace(l.Description) == "" {
		return fmt.Errorf("%w: listing has no description", ErrBackend)
	}
	return nil
}

// ValidatePricing checks that a backend price recommendation is usable
func ValidatePricing(r *pricing.Result) error {
	if r == nil {
		return fmt.Errorf("%w: empty pricing result", ErrBackend)
	}
	if r.RecommendedPrice <= 0 || r.QuickSalePrice <= 0 || r.RangeLow <= 0 {
		return fmt.Errorf("%w: pricing figures must be positive", ErrBackend)
	}
	if r.RangeLow > r.RangeHigh {
		return fmt.Errorf("%w: price range %d-%d is inverted", ErrBackend, r.RangeLow, r.RangeHigh)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("%w: pricing confidence %d out of range", ErrBackend, r.Confidence)
	}
	return nil
}
