package tracker

import (
	"context"
	"fmt"
	"net/url"

	"github.com/mitchellh/mapstructure"
)

// Comment is one entry of the issue's trace log. Comments carry diagnostic
// breadcrumbs and email metadata, never authoritative workflow state.
type Comment struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" mapstructure:"created_at"`
}

func (c *Client) AddComment(ctx context.Context, issueID, body string) (*Comment, error) {
	var comment Comment
	u := fmt.Sprintf("%s/issues/%s/comments", c.APIURL, issueID)
	if err := c.sendJSON(ctx, "POST", u, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}

	return &comment, nil
}

// ListComments returns the issue's comments, newest first.
func (c *Client) ListComments(ctx context.Context, issueID string) ([]*Comment, error) {
	q := url.Values{}
	q.Add("order", "created_at_desc")

	items, err := c.GetItems(ctx, fmt.Sprintf("%s/issues/%s/comments", c.APIURL, issueID), q)
	if err != nil {
		return nil, err
	}

	var comments []*Comment
	if err = mapstructure.Decode(items, &comments); err != nil {
		return nil, err
	}

	return comments, nil
}
