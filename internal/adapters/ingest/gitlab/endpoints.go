package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	perr "fourkeys/internal/platform/errors"
)

const maxBody = 16 << 20

// Project fetches a project by numeric id
func (c *Client) Project(ctx context.Context, id int64) (Project, error) {
	var out Project
	err := c.getJSON(ctx, fmt.Sprintf("/projects/%d", id), nil, &out)
	return out, err
}

// ProjectEvents lists every event of a project matching q across all pages
func (c *Client) ProjectEvents(ctx context.Context, projectID int64, q EventsQuery) ([]Event, error) {
	v := url.Values{}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if !q.After.IsZero() {
		v.Set("after", q.After.UTC().Format("2006-01-02"))
	}
	if !q.Before.IsZero() {
		v.Set("before", q.Before.UTC().Format("2006-01-02"))
	}
	v.Set("sort", "asc")
	return listAll[Event](ctx, c, fmt.Sprintf("/projects/%d/events", projectID), v)
}

// Deployments lists every deployment of a project, keeping each raw payload for signing
func (c *Client) Deployments(ctx context.Context, projectID int64) ([]Deployment, error) {
	var out []Deployment
	err := c.pages(ctx, fmt.Sprintf("/projects/%d/deployments", projectID), url.Values{"sort": {"asc"}}, func(raw json.RawMessage) error {
		var d Deployment
		if err := json.Unmarshal(raw, &d); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeJSON, "decode deployment")
		}
		d.Raw = bytes.Clone(raw)
		out = append(out, d)
		return nil
	})
	return out, err
}

// Commit fetches a single commit with its parent ids
func (c *Client) Commit(ctx context.Context, projectID int64, sha string) (Commit, error) {
	var out Commit
	err := c.getJSON(ctx, fmt.Sprintf("/projects/%d/repository/commits/%s", projectID, url.PathEscape(sha)), nil, &out)
	return out, err
}

// CommitDiff lists every file change of a commit
func (c *Client) CommitDiff(ctx context.Context, projectID int64, sha string) ([]Diff, error) {
	return listAll[Diff](ctx, c, fmt.Sprintf("/projects/%d/repository/commits/%s/diff", projectID, url.PathEscape(sha)), nil)
}

// MergeRequestCommits lists the commits of a merge request by iid, newest first as the host orders them
func (c *Client) MergeRequestCommits(ctx context.Context, projectID, iid int64) ([]Commit, error) {
	return listAll[Commit](ctx, c, fmt.Sprintf("/projects/%d/merge_requests/%d/commits", projectID, iid), nil)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, q)
	if err != nil {
		return err
	}
	defer c.closeBody(resp, path)
	return decode(resp.Body, out)
}

// pages walks offset pagination via X-Next-Page and hands each array element to fn
func (c *Client) pages(ctx context.Context, path string, q url.Values, fn func(json.RawMessage) error) error {
	v := url.Values{}
	for k, vs := range q {
		v[k] = append([]string(nil), vs...)
	}
	v.Set("per_page", strconv.Itoa(c.opts.PerPage))

	for page := 1; page > 0; {
		v.Set("page", strconv.Itoa(page))
		resp, err := c.Do(ctx, http.MethodGet, path, v)
		if err != nil {
			return err
		}
		var items []json.RawMessage
		err = decode(resp.Body, &items)
		next := atoi(resp.Header.Get("X-Next-Page"))
		c.closeBody(resp, path)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if len(items) == 0 || next <= page {
			break
		}
		page = next
	}
	return nil
}

func listAll[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	var out []T
	err := c.pages(ctx, path, q, func(raw json.RawMessage) error {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeJSON, "decode %s item", path)
		}
		out = append(out, item)
		return nil
	})
	return out, err
}

func decode(r io.Reader, out any) error {
	b, err := io.ReadAll(io.LimitReader(r, maxBody))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "gitlab read body")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeJSON, "gitlab decode body")
	}
	return nil
}

func (c *Client) closeBody(resp *http.Response, path string) {
	if err := resp.Body.Close(); err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("gitlab close body failed")
	}
}
