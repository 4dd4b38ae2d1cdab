package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// candidateSchemaVersion is bumped when the embedded metadata layout changes.
const candidateSchemaVersion = 1

// Candidate is the structured metadata embedded in a record's description.
// The description is the only datastore this system has, so the block must
// survive every description rewrite.
type Candidate struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Thread string `json:"thread"`
}

// metadataPattern matches the invisible metadata block the intake form puts
// at the top of every candidate description.
var metadataPattern = regexp.MustCompile(`(?s)<!-- candidate:v(\d+) (\{.*?\}) -->`)

// ParseCandidate extracts the embedded metadata from a description.
func ParseCandidate(description string) (*Candidate, error) {
	match := metadataPattern.FindStringSubmatch(description)
	if match == nil {
		return nil, fmt.Errorf("description carries no candidate metadata")
	}

	var candidate Candidate
	if err := json.Unmarshal([]byte(match[2]), &candidate); err != nil {
		return nil, fmt.Errorf("parse candidate metadata: %w", err)
	}

	if strings.TrimSpace(candidate.Email) == "" {
		return nil, fmt.Errorf("candidate metadata carries no contact email")
	}

	return &candidate, nil
}

// RenderMetadata serializes the candidate back into the comment form the
// intake uses. Mostly useful for tests and manual repair.
func RenderMetadata(candidate *Candidate) (string, error) {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("<!-- candidate:v%d %s -->", candidateSchemaVersion, payload), nil
}

// ParsedDocument is one attachment converted to text.
type ParsedDocument struct {
	Title string
	Text  string
}

const documentsHeading = "## Attached documents"

// AppendDocuments adds the extracted attachment text to the description so
// the screening prompt sees the full candidate material. Appending is
// idempotent per heading: a description that already carries the section is
// returned unchanged, since reparsing would only duplicate content.
func AppendDocuments(description string, docs []ParsedDocument) string {
	if len(docs) == 0 || strings.Contains(description, documentsHeading) {
		return description
	}

	var builder strings.Builder
	builder.WriteString(strings.TrimRight(description, "\n"))
	builder.WriteString("\n\n")
	builder.WriteString(documentsHeading)
	builder.WriteString("\n")

	for _, doc := range docs {
		builder.WriteString("\n### ")
		builder.WriteString(doc.Title)
		builder.WriteString("\n\n")
		builder.WriteString(strings.TrimSpace(doc.Text))
		builder.WriteString("\n")
	}

	return builder.String()
}
