package webhook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// payloadSchema shapes what the tracker is allowed to deliver. Anything that
// fails validation is a permanent (4xx) failure: redelivering it cannot help.
const payloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "action", "data"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"action": {"type": "string", "minLength": 1},
		"data": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1}
			}
		},
		"url": {"type": "string"}
	}
}`

// Event is the decoded webhook envelope. Data stays loosely typed until the
// classifier knows which entity the event concerns.
type Event struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
	URL    string         `json:"url"`
}

// Entity types and actions the classifier routes on.
const (
	TypeIssue   = "Issue"
	TypeProject = "Project"
	TypeComment = "Comment"

	ActionCreate = "create"
	ActionUpdate = "update"
)

type IssueData struct {
	ID string `mapstructure:"id"`
}

type CommentData struct {
	ID      string `mapstructure:"id"`
	IssueID string `mapstructure:"issue_id"`
	Body    string `mapstructure:"body"`
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("webhook.json", doc); err != nil {
		return nil, fmt.Errorf("register webhook schema: %w", err)
	}

	schema, err := compiler.Compile("webhook.json")
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}

	return schema, nil
}

func validatePayload(schema *jsonschema.Schema, body []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	return schema.Validate(instance)
}

func decodeIssueData(data map[string]any) (*IssueData, error) {
	var issue IssueData
	if err := mapstructure.Decode(data, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func decodeCommentData(data map[string]any) (*CommentData, error) {
	var comment CommentData
	if err := mapstructure.Decode(data, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}
