package scan

import (
	"time"

	"github.com/zombor/game-scanner/internal/inference"
	"github.com/zombor/game-scanner/internal/pricing"
)

// Scan tracks one photo-to-listing workflow
type Scan struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	ImageRef      string `json:"imageRef"`
	ImageMIMEType string `json:"imageMimeType"`
	ImageSize     int64  `json:"imageSize"`
	SessionID     string `json:"sessionId,omitempty"`

	// Set once by recognition, best first
	Candidates []inference.Candidate `json:"aiCandidates,omitempty"`
	Evidence   *inference.Evidence   `json:"aiEvidence,omitempty"`

	ConfirmedTitle     string             `json:"confirmedTitle,omitempty"`
	ConfirmedEdition   string             `json:"confirmedEdition,omitempty"`
	ConfirmedLanguage  inference.Language `json:"confirmedLanguage,omitempty"`
	ConfirmedCondition pricing.Condition  `json:"confirmedCondition,omitempty"`
	IsComplete         bool               `json:"isComplete"`
	NormalizedTitle    string             `json:"normalizedTitle,omitempty"`
	Keywords           []string           `json:"keywords,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Confirmed reports whether the user has confirmed the attributes pricing
// and drafting depend on
func (s *Scan) Confirmed() bool {
	return s.ConfirmedTitle != "" && s.ConfirmedCondition != "" && s.ConfirmedLanguage != ""
}

// PriceSource is where a price observation came from
type PriceSource string

const (
	SourceManual        PriceSource = pricing.SourceManual
	SourceKleinanzeigen PriceSource = "KLEINANZEIGEN"
	SourceBGG           PriceSource = "BGG"
	SourceOther         PriceSource = "OTHER"
)

// Currency of every price in the system
const Currency = "EUR"

// PriceSample is one observed or entered price. Samples are append-only.
type PriceSample struct {
	ID            string      `json:"id,omitempty"`
	ScanID        string      `json:"scanId"`
	Source        PriceSource `json:"source"`
	Price         float64     `json:"price"`
	Currency      string      `json:"currency"`
	ConditionHint string      `json:"conditionHint,omitempty"`
	URL           string      `json:"url,omitempty"`
	CreatedAt     time.Time   `json:"timestamp"`
}

func (p *PriceSample) sample() pricing.Sample {
	return pricing.Sample{
		Source:        string(p.Source),
		Price:         p.Price,
		ConditionHint: p.ConditionHint,
	}
}

// ListingDraft is the generated marketplace text for a scan. There is at most
// one per scan; regenerating replaces its fields.
type ListingDraft struct {
	ID     string `json:"id"`
	ScanID string `json:"scanId"`

	TitleVariants []inference.TitleVariant `json:"titleVariants"`
	Description   string                   `json:"description"`
	BulletPoints  []string                 `json:"bulletPoints"`
	SearchTags    []string                 `json:"searchTags"`

	SuggestedPrice    float64  `json:"suggestedPrice"`
	QuickSalePrice    int      `json:"quickSalePrice"`
	NegotiationAnchor int      `json:"negotiationAnchor"`
	RangeLow          int      `json:"rangeLow"`
	RangeHigh         int      `json:"rangeHigh"`
	ReasoningBullets  []string `json:"reasoningBullets"`
	Confidence        int      `json:"confidence"`

	PickupLocation    string `json:"pickupLocation,omitempty"`
	ShippingAvailable bool   `json:"shippingAvailable"`
	PaypalAvailable   bool   `json:"paypalAvailable"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
