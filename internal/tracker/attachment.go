package tracker

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

type Attachment struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (c *Client) GetAttachments(ctx context.Context, issueID string) ([]*Attachment, error) {
	items, err := c.GetItems(ctx, fmt.Sprintf("%s/issues/%s/attachments", c.APIURL, issueID), nil)
	if err != nil {
		return nil, err
	}

	var attachments []*Attachment
	if err = mapstructure.Decode(items, &attachments); err != nil {
		return nil, err
	}

	return attachments, nil
}
