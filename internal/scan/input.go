package scan

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zombor/game-scanner/internal/inference"
	"github.com/zombor/game-scanner/internal/pricing"
)

const (
	maxTitleLength          = 200
	maxEditionLength        = 100
	maxManualPrices         = 5
	maxPickupLocationLength = 100
	maxNotesLength          = 500
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConfirmInput is the user's confirmation of the recognized game
type ConfirmInput struct {
	Title      string             `json:"title"`
	Edition    string             `json:"edition,omitempty"`
	Language   inference.Language `json:"language"`
	Condition  pricing.Condition  `json:"condition"`
	IsComplete *bool              `json:"isComplete"`
}

// Validate checks the input against the boundary rules
func (in *ConfirmInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Edition = strings.TrimSpace(in.Edition)

	if n := utf8.RuneCountInString(in.Title); n < 1 || n > maxTitleLength {
		return validationError("title must be between 1 and %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(in.Edition) > maxEditionLength {
		return validationError("edition must be at most %d characters", maxEditionLength)
	}
	if !in.Language.Valid() {
		return validationError("invalid language %q", in.Language)
	}
	if !in.Condition.Valid() {
		return validationError("invalid condition %q", in.Condition)
	}
	if in.IsComplete == nil {
		return validationError("isComplete is required")
	}
	return nil
}

// ManualPrice is one user-entered price observation
type ManualPrice struct {
	Price         float64 `json:"price"`
	ConditionHint string  `json:"conditionHint,omitempty"`
}

// PricingInput carries optional manual price observations
type PricingInput struct {
	ManualPrices []ManualPrice `json:"manualPrices,omitempty"`
}

// Validate checks the input against the boundary rules
func (in *PricingInput) Validate() error {
	if in.ManualPrices == nil {
		return nil
	}
	if n := len(in.ManualPrices); n < 1 || n > maxManualPrices {
		return validationError("manualPrices must contain between 1 and %d entries", maxManualPrices)
	}
	for i, mp := range in.ManualPrices {
		if mp.Price <= 0 {
			return validationError("manualPrices[%d].price must be positive", i)
		}
	}
	return nil
}

// DraftInput carries the seller's listing details
type DraftInput struct {
	Price             float64 `json:"price"`
	PickupLocation    string  `json:"pickupLocation,omitempty"`
	ShippingAvailable bool    `json:"shippingAvailable"`
	PaypalAvailable   bool    `json:"paypalAvailable"`
	AdditionalNotes   string  `json:"additionalNotes,omitempty"`
}

// Validate checks the input against the boundary rules
func (in *DraftInput) Validate() error {
	in.PickupLocation = strings.TrimSpace(in.PickupLocation)
	in.AdditionalNotes = strings.TrimSpace(in.AdditionalNotes)

	if in.Price <= 0 {
		return validationError("price must be positive")
	}
	if utf8.RuneCountInString(in.PickupLocation) > maxPickupLocationLength {
		return validationError("pickupLocation must be at most %d characters", maxPickupLocationLength)
	}
	if utf8.RuneCountInString(in.AdditionalNotes) > maxNotesLength {
		return validationError("additionalNotes must be at most %d characters", maxNotesLength)
	}
	return nil
}
