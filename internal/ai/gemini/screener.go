package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/danielkov/hireloop/internal/ai"
	"github.com/danielkov/hireloop/internal/utils"

	"go.uber.org/zap"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// Screener evaluates candidates against job postings with Gemini and
// produces interview preparation pointers.
type Screener struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

//go:embed screen_prompt.md
var screenPromptTemplate string

//go:embed pointers_prompt.md
var pointersPromptTemplate string

const defaultMaxLogLength = 200

func NewScreener(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Screener {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Screener{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Score asks the model for a structured screening verdict. The response is
// coerced defensively: a malformed verdict surfaces as an error and an
// unknown confidence value degrades to ambiguous, never to an approval.
func (s *Screener) Score(ctx context.Context, candidateText, jobText string) (*ai.ScreeningResult, error) {
	if strings.TrimSpace(candidateText) == "" {
		return nil, fmt.Errorf("candidate text is required")
	}
	if strings.TrimSpace(jobText) == "" {
		return nil, fmt.Errorf("job text is required")
	}

	prompt := buildPrompt(screenPromptTemplate, candidateText, jobText)

	s.logger.Debug("gemini screening request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	raw, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gemini screening response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	result, err := parseScreeningResponse(raw)
	if err != nil {
		return nil, err
	}

	result.Raw = raw
	return result, nil
}

// GeneratePointers returns conversation starters for the screening interview.
func (s *Screener) GeneratePointers(ctx context.Context, jobText, candidateText string) ([]string, error) {
	prompt := buildPrompt(pointersPromptTemplate, candidateText, jobText)

	raw, err := s.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	cleaned := extractJSON(raw)

	var pointers []string
	if err := json.Unmarshal([]byte(cleaned), &pointers); err != nil {
		// Some models wrap the array in an object despite instructions.
		var wrapped struct {
			Pointers []string `json:"pointers"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
			return nil, fmt.Errorf("parse pointers response: %w", err)
		}
		pointers = wrapped.Pointers
	}

	trimmed := make([]string, 0, len(pointers))
	for _, pointer := range pointers {
		if pointer = strings.TrimSpace(pointer); pointer != "" {
			trimmed = append(trimmed, pointer)
		}
	}

	return trimmed, nil
}

func buildPrompt(template, candidateText, jobText string) string {
	prompt := strings.ReplaceAll(template, "{{CANDIDATE}}", candidateText)
	prompt = strings.ReplaceAll(prompt, "{{JOB}}", jobText)
	return prompt
}

func parseScreeningResponse(raw string) (*ai.ScreeningResult, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse screening response: %w", err)
	}

	return &ai.ScreeningResult{
		Confidence:      normalizeConfidence(coerceString(data["confidence"])),
		Reasoning:       coerceString(data["reasoning"]),
		MatchedCriteria: coerceStringSlice(data["matched_criteria"]),
		Concerns:        coerceStringSlice(data["concerns"]),
	}, nil
}

func normalizeConfidence(value string) ai.Confidence {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ai.ConfidenceHigh):
		return ai.ConfidenceHigh
	case string(ai.ConfidenceLow):
		return ai.ConfidenceLow
	default:
		return ai.ConfidenceAmbiguous
	}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			result = append(result, s)
		}
	}
	return result
}
