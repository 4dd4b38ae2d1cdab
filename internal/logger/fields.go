package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldTenant is the structured log field key for the organization account.
	FieldTenant = "tenant"
	// FieldIssue is the structured log field key for the candidate record id.
	FieldIssue = "issue_id"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger, defaulting to
// a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// WithIssue attaches the tenant and candidate record id to the logger so every
// line emitted while handling one delivery can be correlated.
func WithIssue(logger *zap.Logger, tenant, issueID string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldTenant, Value: tenant},
		StringField{Key: FieldIssue, Value: issueID},
	)...)
}

// WithAI attaches the AI provider and model identifiers to the logger.
func WithAI(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
