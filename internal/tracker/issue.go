package tracker

import (
	"context"
	"fmt"
)

// Issue statuses mirrored from the tracker's workflow columns.
const (
	StatusTodo       = "Todo"
	StatusTriage     = "Triage"
	StatusInProgress = "InProgress"
	StatusDeclined   = "Declined"
)

type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	TeamID      string   `json:"team_id"`
	ProjectID   string   `json:"project_id"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// IssuePatch is a composite update. Nil fields are left untouched by the
// tracker; Labels replaces the whole label set when non-nil.
type IssuePatch struct {
	Status      *string  `json:"status,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p *IssuePatch) IsEmpty() bool {
	return p == nil || (p.Status == nil && p.Labels == nil && p.Description == nil)
}

func (c *Client) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var issue Issue
	if err := c.getJSON(ctx, fmt.Sprintf("%s/issues/%s", c.APIURL, id), &issue); err != nil {
		return nil, err
	}

	return &issue, nil
}

// UpdateIssue applies the patch in a single call. Callers must batch every
// field change for one logical transition into one patch: each update emits a
// fresh webhook, and incremental updates would re-trigger processing.
func (c *Client) UpdateIssue(ctx context.Context, id string, patch *IssuePatch) error {
	return c.sendJSON(ctx, "PATCH", fmt.Sprintf("%s/issues/%s", c.APIURL, id), patch, nil)
}

// HasLabel reports whether the issue currently carries the given label.
func (i *Issue) HasLabel(name string) bool {
	for _, label := range i.Labels {
		if label == name {
			return true
		}
	}
	return false
}
