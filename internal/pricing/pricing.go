package pricing

import (
	"fmt"
	"math"
)

// Condition describes the physical state of a used game
type Condition string

const (
	ConditionNew        Condition = "NEW"
	ConditionLikeNew    Condition = "LIKE_NEW"
	ConditionVeryGood   Condition = "VERY_GOOD"
	ConditionGood       Condition = "GOOD"
	ConditionAcceptable Condition = "ACCEPTABLE"
)

// Conditions lists every known condition, best first
var Conditions = []Condition{
	ConditionNew,
	ConditionLikeNew,
	ConditionVeryGood,
	ConditionGood,
	ConditionAcceptable,
}

var conditionMultipliers = map[Condition]float64{
	ConditionNew:        1.20,
	ConditionLikeNew:    1.10,
	ConditionVeryGood:   1.00,
	ConditionGood:       0.85,
	ConditionAcceptable: 0.70,
}

var conditionLabels = map[Condition]string{
	ConditionNew:        "Neu (originalverpackt)",
	ConditionLikeNew:    "Wie neu",
	ConditionVeryGood:   "Sehr gut",
	ConditionGood:       "Gut",
	ConditionAcceptable: "Akzeptabel",
}

// Valid reports whether c is one of the known conditions
func (c Condition) Valid() bool {
	_, ok := conditionMultipliers[c]
	return ok
}

// Multiplier returns the price scalar for c. Unknown conditions are neutral.
func (c Condition) Multiplier() float64 {
	if m, ok := conditionMultipliers[c]; ok {
		return m
	}
	return 1.00
}

// Label returns the German marketplace wording for c
func (c Condition) Label() string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return string(c)
}

const (
	// DefaultAveragePrice is the EUR average used when no observations exist
	DefaultAveragePrice = 25.0

	// EstimatedHint marks the synthetic sample built from DefaultAveragePrice
	EstimatedHint = "Geschätzter Durchschnittspreis"

	// SourceManual is the source tag of user-entered observations
	SourceManual = "MANUAL"

	quickSaleFactor  = 0.80
	anchorFactor     = 1.15
	rangeLowFactor   = 0.70
	rangeHighFactor  = 1.30
	confidentSamples = 3
	highConfidence   = 85
	lowConfidence    = 60
)

// Sample is a single price observation in EUR
type Sample struct {
	Source        string
	Price         float64
	ConditionHint string
}

// DefaultSample returns the estimated observation used when a caller supplies none
func DefaultSample() Sample {
	return Sample{
		Source:        SourceManual,
		Price:         DefaultAveragePrice,
		ConditionHint: EstimatedHint,
	}
}

// Figures are the rounded prices derived from one base price
type Figures struct {
	RecommendedPrice  int `json:"recommendedPrice"`
	QuickSalePrice    int `json:"quickSalePrice"`
	NegotiationAnchor int `json:"negotiationAnchor"`
	RangeLow          int `json:"rangeLow"`
	RangeHigh         int `json:"rangeHigh"`
}

// Result is a complete price recommendation
type Result struct {
	Figures
	ReasoningBullets []string `json:"reasoningBullets"`
	Confidence       int      `json:"confidence"`
}

// Derive computes the price figures for base. Each figure is base times its
// factor, rounded on its own.
func Derive(base float64) Figures {
	return Figures{
		RecommendedPrice:  round(base),
		QuickSalePrice:    round(base * quickSaleFactor),
		NegotiationAnchor: round(base * anchorFactor),
		RangeLow:          round(base * rangeLowFactor),
		RangeHigh:         round(base * rangeHighFactor),
	}
}

// AveragePrice returns the arithmetic mean of the sample prices, or
// DefaultAveragePrice when there are none.
func AveragePrice(samples []Sample) float64 {
	if len(samples) == 0 {
		return DefaultAveragePrice
	}
	var sum float64
	for _, s := range samples {
		sum += s.Price
	}
	return sum / float64(len(samples))
}

// Analyze turns a condition and a set of observations into a recommendation.
// It is pure: identical inputs always yield identical output.
func Analyze(condition Condition, isComplete bool, samples []Sample) Result {
	base := AveragePrice(samples) * condition.Multiplier()

	confidence := lowConfidence
	if len(samples) >= confidentSamples {
		confidence = highConfidence
	}

	completeness := "Möglicherweise unvollständig - Preisabzug empfohlen"
	if isComplete {
		completeness = "Vollständiges Spiel - kein Abzug"
	}

	return Result{
		Figures: Derive(base),
		ReasoningBullets: []string{
			fmt.Sprintf("Durchschnittspreis basierend auf %d Vergleichsangeboten", len(samples)),
			fmt.Sprintf("Zustand %q berücksichtigt", string(condition)),
			completeness,
		},
		Confidence: confidence,
	}
}

// round rounds half up, matching the reference figures for positive prices
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
