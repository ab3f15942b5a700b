package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

type CreateReleaseRequest struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

func (c *Client) CreateRelease(ctx context.Context, req CreateReleaseRequest) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodPost, c.repoPath("/releases"), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetRelease(ctx context.Context, id int64) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodGet, c.repoPath("/releases/%d", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	var r Release
	if err := c.do(ctx, http.MethodGet, c.repoPath("/releases/tags/%s", url.PathEscape(tag)), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRelease returns ErrNotFound when the release is already gone.
func (c *Client) DeleteRelease(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, c.repoPath("/releases/%d", id), nil, nil)
}

func (c *Client) DeleteReleaseByTag(ctx context.Context, tag string) error {
	r, err := c.GetReleaseByTag(ctx, tag)
	if err != nil {
		return err
	}
	if err := c.DeleteRelease(ctx, r.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("github: delete release for %s: %w", tag, err)
	}
	return nil
}
