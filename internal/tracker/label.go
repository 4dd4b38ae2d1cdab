package tracker

import (
	"context"
	"fmt"
	"net/url"
)

type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureLabel returns the id of the named label, creating it when the team
// does not have it yet.
func (c *Client) EnsureLabel(ctx context.Context, name string) (string, error) {
	q := url.Values{}
	q.Add("name", name)

	var existing struct {
		Labels []Label `json:"labels"`
	}
	u := fmt.Sprintf("%s/labels", c.APIURL)
	if err := c.getJSON(ctx, u+"?"+q.Encode(), &existing); err != nil {
		return "", err
	}

	for _, label := range existing.Labels {
		if label.Name == name {
			return label.ID, nil
		}
	}

	var created Label
	if err := c.sendJSON(ctx, "POST", u, map[string]string{"name": name}, &created); err != nil {
		return "", err
	}

	return created.ID, nil
}
