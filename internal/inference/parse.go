package inference

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON strips markdown fences and surrounding prose from a model
// response and returns the outermost JSON object.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}

	return text[startIdx : endIdx+1], nil
}

// decodeResponse extracts the JSON object from text into v
func decodeResponse(text string, v any) error {
	raw, err := extractJSON(text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: unmarshaling json: %w", ErrBackend, err)
	}
	return nil
}

// Wire shapes: models answer with null for unknown optional fields.

type candidatePayload struct {
	Title         string  `json:"title"`
	Edition       *string `json:"edition"`
	LanguageGuess *string `json:"languageGuess"`
	Confidence    int     `json:"confidence"`
}

func (c candidatePayload) candidate() Candidate {
	out := Candidate{
		Title:      strings.TrimSpace(c.Title),
		Confidence: c.Confidence,
	}
	if c.Edition != nil {
		out.Edition = strings.TrimSpace(*c.Edition)
	}
	if c.LanguageGuess != nil {
		out.LanguageGuess = Language(strings.ToUpper(strings.TrimSpace(*c.LanguageGuess)))
	}
	return out
}

type recognitionPayload struct {
	Best              candidatePayload   `json:"best"`
	Alternatives      []candidatePayload `json:"alternatives"`
	Evidence          Evidence           `json:"evidence"`
	NeedsConfirmation bool               `json:"needsConfirmation"`
}

func parseRecognition(text string) (*Recognition, error) {
	var p recognitionPayload
	if err := decodeResponse(text, &p); err != nil {
		return nil, err
	}

	r := &Recognition{
		Best:              p.Best.candidate(),
		Alternatives:      make([]Candidate, 0, len(p.Alternatives)),
		Evidence:          p.Evidence,
		NeedsConfirmation: p.NeedsConfirmation,
	}
	for _, alt := range p.Alternatives {
		r.Alternatives = append(r.Alternatives, alt.candidate())
	}
	if r.Evidence.VisibleText == nil {
		r.Evidence.VisibleText = []string{}
	}
	if r.Evidence.VisualCues == nil {
		r.Evidence.VisualCues = []string{}
	}

	if err := ValidateRecognition(r); err != nil {
		return nil, err
	}
	return r, nil
}

type normalizationPayload struct {
	NormalizedTitle string   `json:"normalizedTitle"`
	Keywords        []string `json:"keywords"`
	EditionHints    *string  `json:"editionHints"`
}

func parseNormalization(text string) (*Normalization, error) {
	var p normalizationPayload
	if err := decodeResponse(text, &p); err != nil {
		return nil, err
	}

	n := &Normalization{
		NormalizedTitle: strings.TrimSpace(p.NormalizedTitle),
		Keywords:        p.Keywords,
	}
	if n.Keywords == nil {
		n.Keywords = []string{}
	}
	if p.EditionHints != nil {
		n.EditionHints = strings.TrimSpace(*p.EditionHints)
	}

	if err := ValidateNormalization(n); err != nil {
		return nil, err
	}
	return n, nil
}

func parseListing(text string) (*Listing, error) {
	var l Listing
	if err := decodeResponse(text, &l); err != nil {
		return nil, err
	}
	if err := ValidateListing(&l); err != nil {
		return nil, err
	}
	return &l, nil
}
