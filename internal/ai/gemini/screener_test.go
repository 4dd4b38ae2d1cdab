package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danielkov/hireloop/internal/ai"

	"go.uber.org/zap"
)

type stubGenerator struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestScreenerScore(t *testing.T) {
	stub := &stubGenerator{response: `{
		"confidence": "high",
		"reasoning": "Meets every requirement",
		"matched_criteria": ["Go", "Postgres"],
		"concerns": []
	}`}
	screener := NewScreener(stub, zap.NewNop(), 0)

	result, err := screener.Score(context.Background(), "ten years of Go", "senior Go role")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Confidence != ai.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", result.Confidence)
	}
	if result.Reasoning != "Meets every requirement" {
		t.Fatalf("unexpected reasoning: %q", result.Reasoning)
	}
	if len(result.MatchedCriteria) != 2 {
		t.Fatalf("unexpected criteria: %v", result.MatchedCriteria)
	}
	if result.Raw == "" {
		t.Fatalf("expected the raw response preserved")
	}

	if !strings.Contains(stub.lastPrompt, "ten years of Go") {
		t.Fatalf("expected candidate text in the prompt")
	}
	if !strings.Contains(stub.lastPrompt, "senior Go role") {
		t.Fatalf("expected job text in the prompt")
	}
	if strings.Contains(stub.lastPrompt, "{{CANDIDATE}}") || strings.Contains(stub.lastPrompt, "{{JOB}}") {
		t.Fatalf("prompt placeholders were not substituted")
	}
}

func TestScreenerScoreStripsCodeFences(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"confidence\": \"low\", \"reasoning\": \"junior\"}\n```"}
	screener := NewScreener(stub, zap.NewNop(), 0)

	result, err := screener.Score(context.Background(), "candidate", "job")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != ai.ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", result.Confidence)
	}
}

func TestScreenerScoreNormalizesUnknownConfidence(t *testing.T) {
	cases := []string{"medium", "HIGH CONFIDENCE", "", "definitely"}

	for _, value := range cases {
		stub := &stubGenerator{response: `{"confidence": "` + value + `"}`}
		screener := NewScreener(stub, zap.NewNop(), 0)

		result, err := screener.Score(context.Background(), "candidate", "job")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", value, err)
		}
		if result.Confidence != ai.ConfidenceAmbiguous {
			t.Fatalf("expected %q to normalize to ambiguous, got %s", value, result.Confidence)
		}
	}
}

func TestScreenerScoreRequiresInputs(t *testing.T) {
	screener := NewScreener(&stubGenerator{}, zap.NewNop(), 0)

	if _, err := screener.Score(context.Background(), "  ", "job"); err == nil {
		t.Fatalf("expected an error for empty candidate text")
	}
	if _, err := screener.Score(context.Background(), "candidate", ""); err == nil {
		t.Fatalf("expected an error for empty job text")
	}
}

func TestScreenerScoreSurfacesMalformedResponse(t *testing.T) {
	stub := &stubGenerator{response: "I cannot answer in JSON, sorry."}
	screener := NewScreener(stub, zap.NewNop(), 0)

	if _, err := screener.Score(context.Background(), "candidate", "job"); err == nil {
		t.Fatalf("expected an error for a non-JSON verdict")
	}
}

func TestScreenerScoreSurfacesGeneratorError(t *testing.T) {
	stub := &stubGenerator{err: errors.New("model unavailable")}
	screener := NewScreener(stub, zap.NewNop(), 0)

	if _, err := screener.Score(context.Background(), "candidate", "job"); err == nil {
		t.Fatalf("expected the generator error")
	}
}

func TestGeneratePointers(t *testing.T) {
	stub := &stubGenerator{response: `["Ask about Go", " Ask about Postgres ", ""]`}
	screener := NewScreener(stub, zap.NewNop(), 0)

	pointers, err := screener.GeneratePointers(context.Background(), "job", "candidate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pointers) != 2 {
		t.Fatalf("expected empty entries dropped, got %v", pointers)
	}
	if pointers[1] != "Ask about Postgres" {
		t.Fatalf("expected trimmed pointer, got %q", pointers[1])
	}
}

func TestGeneratePointersAcceptsWrappedObject(t *testing.T) {
	stub := &stubGenerator{response: `{"pointers": ["Ask about Go"]}`}
	screener := NewScreener(stub, zap.NewNop(), 0)

	pointers, err := screener.GeneratePointers(context.Background(), "job", "candidate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pointers) != 1 || pointers[0] != "Ask about Go" {
		t.Fatalf("unexpected pointers: %v", pointers)
	}
}
