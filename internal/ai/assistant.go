package ai

import "context"

// Confidence is the screener's overall verdict on a candidate. Anything the
// model returns outside this set is normalized to ConfidenceAmbiguous so a
// human always ends up in the loop for unclear cases.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceLow       Confidence = "low"
	ConfidenceAmbiguous Confidence = "ambiguous"
)

type ScreeningResult struct {
	Confidence      Confidence
	Reasoning       string
	MatchedCriteria []string
	Concerns        []string
	Raw             string
}

// Screener scores a candidate against a job posting and produces interview
// preparation material.
type Screener interface {
	Score(ctx context.Context, candidateText, jobText string) (*ScreeningResult, error)
	GeneratePointers(ctx context.Context, jobText, candidateText string) ([]string, error)
}
