package tracker

import (
	"context"
	"fmt"
)

// ProjectStatusInProgress gates screening and publication: postings in any
// other state are not accepting candidates.
const ProjectStatusInProgress = "InProgress"

type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Content string `json:"content"`
}

func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var project Project
	if err := c.getJSON(ctx, fmt.Sprintf("%s/projects/%s", c.APIURL, id), &project); err != nil {
		return nil, err
	}

	return &project, nil
}

// Accepting reports whether the posting is open for screening actions.
func (p *Project) Accepting() bool {
	return p != nil && p.Status == ProjectStatusInProgress
}
