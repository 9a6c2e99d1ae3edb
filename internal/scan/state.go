package scan

import "fmt"

// Status is a scan's position in the pipeline
type Status string

const (
	StatusUploaded  Status = "UPLOADED"
	StatusAnalyzing Status = "ANALYZING"
	StatusAnalyzed  Status = "ANALYZED"
	StatusPricing   Status = "PRICING"
	StatusPriced    Status = "PRICED"
	StatusDrafting  Status = "DRAFTING"
	StatusDrafted   Status = "DRAFTED"
	StatusError     Status = "ERROR"
)

// Statuses lists every status in pipeline order
var Statuses = []Status{
	StatusUploaded,
	StatusAnalyzing,
	StatusAnalyzed,
	StatusPricing,
	StatusPriced,
	StatusDrafting,
	StatusDrafted,
	StatusError,
}

// transitions is the complete legal edge set. ERROR has no outgoing edges.
var transitions = map[Status][]Status{
	StatusUploaded:  {StatusAnalyzing},
	StatusAnalyzing: {StatusAnalyzed, StatusError},
	StatusAnalyzed:  {StatusPricing, StatusDrafting},
	StatusPricing:   {StatusPriced, StatusError},
	StatusPriced:    {StatusPricing, StatusDrafting},
	StatusDrafting:  {StatusDrafted, StatusError},
	StatusDrafted:   {StatusDrafting},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves s to the target status or fails with ErrInvalidTransition.
// Every status change goes through here.
func Transition(s *Scan, to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: scan %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InProgress reports whether a stage is currently working on the scan
func (s Status) InProgress() bool {
	return s == StatusAnalyzing || s == StatusPricing || s == StatusDrafting
}

func (s Status) in(set ...Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
