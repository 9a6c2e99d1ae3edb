package inference

import (
	"context"
	"errors"

	"github.com/zombor/game-scanner/internal/pricing"
)

// ErrBackend marks a failed call or a structurally invalid response from an
// inference backend.
var ErrBackend = errors.New("inference backend error")

// Language is the printed language of a game edition
type Language string

const (
	LanguageGerman  Language = "DE"
	LanguageEnglish Language = "EN"
	LanguageFrench  Language = "FR"
	LanguageSpanish Language = "ES"
	LanguageItalian Language = "IT"
	LanguageDutch   Language = "NL"
	LanguageOther   Language = "OTHER"
)

var languageLabels = map[Language]string{
	LanguageGerman:  "Deutsch",
	LanguageEnglish: "Englisch",
	LanguageFrench:  "Französisch",
	LanguageSpanish: "Spanisch",
	LanguageItalian: "Italienisch",
	LanguageDutch:   "Niederländisch",
	LanguageOther:   "Andere",
}

// Valid reports whether l is a known language code
func (l Language) Valid() bool {
	_, ok := languageLabels[l]
	return ok
}

// Label returns the German name of the language
func (l Language) Label() string {
	if label, ok := languageLabels[l]; ok {
		return label
	}
	return string(l)
}

// Candidate is one titled guess produced by recognition
type Candidate struct {
	Title         string   `json:"title"`
	Edition       string   `json:"edition,omitempty"`
	LanguageGuess Language `json:"languageGuess,omitempty"`
	Confidence    int      `json:"confidence"`
}

// Evidence holds the cues a recognition was based on
type Evidence struct {
	VisibleText []string `json:"visibleText"`
	VisualCues  []string `json:"visualCues"`
}

// Image is a stored photo handed to recognition
type Image struct {
	Base64   string
	MIMEType string
}

// Recognition is the result of identifying a game from a photo.
// Candidates are ordered best first by the backend.
type Recognition struct {
	Best              Candidate   `json:"best"`
	Alternatives      []Candidate `json:"alternatives"`
	Evidence          Evidence    `json:"evidence"`
	NeedsConfirmation bool        `json:"needsConfirmation"`
}

// Candidates returns the best candidate followed by the alternatives
func (r *Recognition) Candidates() []Candidate {
	out := make([]Candidate, 0, len(r.Alternatives)+1)
	out = append(out, r.Best)
	return append(out, r.Alternatives...)
}

// NormalizeRequest asks a backend to clean up a user-entered title
type NormalizeRequest struct {
	UserInput          string
	OriginalSuggestion string
}

// Normalization is a canonical title plus search keywords
type Normalization struct {
	NormalizedTitle string   `json:"normalizedTitle"`
	Keywords        []string `json:"keywords"`
	EditionHints    string   `json:"editionHints,omitempty"`
}

// PricingRequest carries everything a backend may use to judge a price
type PricingRequest struct {
	GameTitle  string
	Edition    string
	Condition  pricing.Condition
	Language   Language
	IsComplete bool
	Samples    []pricing.Sample
}

// ListingRequest carries everything needed to write a marketplace listing
type ListingRequest struct {
	GameTitle         string
	Edition           string
	Condition         pricing.Condition
	Language          Language
	IsComplete        bool
	Price             float64
	PickupLocation    string
	ShippingAvailable bool
	PaypalAvailable   bool
	AdditionalNotes   string
}

// TitleStyle is the tone of a listing title
type TitleStyle string

const (
	StyleNeutral  TitleStyle = "NEUTRAL"
	StyleUrgent   TitleStyle = "URGENT"
	StyleFriendly TitleStyle = "FRIENDLY"
)

// TitleVariant is one suggested listing title
type TitleVariant struct {
	Title string     `json:"title"`
	Style TitleStyle `json:"style"`
}

// Listing is generated marketplace text
type Listing struct {
	TitleVariants []TitleVariant `json:"titleVariants"`
	Description   string         `json:"description"`
	BulletPoints  []string       `json:"bulletPoints"`
	SearchTags    []string       `json:"searchTags"`
}

// Backend defines the inference operations the scan pipeline depends on
type Backend interface {
	// Recognize identifies the game shown in a photo
	Recognize(ctx context.Context, image Image) (*Recognition, error)
	// Normalize turns user input into a canonical title and keywords
	Normalize(ctx context.Context, req NormalizeRequest) (*Normalization, error)
	// AnalyzePricing produces a price recommendation from observations
	AnalyzePricing(ctx context.Context, req PricingRequest) (*pricing.Result, error)
	// GenerateListing writes listing text for a confirmed game
	GenerateListing(ctx context.Context, req ListingRequest) (*Listing, error)
	// Close releases backend resources
	Close() error
}
