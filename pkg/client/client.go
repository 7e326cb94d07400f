package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ctt-hpc/ctt/pkg/api"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
)

// Error is a non-2xx response from the ctt API
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ctt api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client talks to a ctt server's operator API
type Client struct {
	baseURL  string
	operator string
	http     *http.Client
}

// NewClient creates a client for the server at addr ("host:port" or a URL).
// operator is sent as the acting user on every request.
func NewClient(addr, operator string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL:  strings.TrimRight(addr, "/"),
		operator: operator,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.operator != "" {
		req.Header.Set(api.OperatorHeader, c.operator)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ctt server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &Error{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListTargets returns every tracked node
func (c *Client) ListTargets(ctx context.Context) ([]*types.Target, error) {
	var targets []*types.Target
	err := c.do(ctx, http.MethodGet, "/v1/targets", nil, &targets)
	return targets, err
}

// GetTarget returns a node and its issues
func (c *Client) GetTarget(ctx context.Context, name string) (*api.TargetResponse, error) {
	var target api.TargetResponse
	if err := c.do(ctx, http.MethodGet, "/v1/targets/"+url.PathEscape(name), nil, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

// ListIssues returns issues, optionally narrowed to a node and a status
func (c *Client) ListIssues(ctx context.Context, target string, status types.IssueStatus) ([]*types.Issue, error) {
	q := url.Values{}
	if target != "" {
		q.Set("target", target)
	}
	if status != "" {
		q.Set("status", string(status))
	}
	path := "/v1/issues"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var issues []*types.Issue
	err := c.do(ctx, http.MethodGet, path, nil, &issues)
	return issues, err
}

// GetIssue returns an issue with its comments
func (c *Client) GetIssue(ctx context.Context, id string) (*api.IssueResponse, error) {
	var issue api.IssueResponse
	if err := c.do(ctx, http.MethodGet, "/v1/issues/"+url.PathEscape(id), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// OpenIssue opens an issue
func (c *Client) OpenIssue(ctx context.Context, req tracker.NewIssue) (*types.Issue, error) {
	var issue types.Issue
	if err := c.do(ctx, http.MethodPost, "/v1/issues", req, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CloseIssue closes an issue, leaving comment on it when non-empty
func (c *Client) CloseIssue(ctx context.Context, id, comment string) (*api.CloseResponse, error) {
	var resp api.CloseResponse
	err := c.do(ctx, http.MethodPost, "/v1/issues/"+url.PathEscape(id)+"/close", api.CommentRequest{Comment: comment}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddComment comments on an issue
func (c *Client) AddComment(ctx context.Context, id, text string) (*types.Comment, error) {
	var comment types.Comment
	err := c.do(ctx, http.MethodPost, "/v1/issues/"+url.PathEscape(id)+"/comments", api.CommentRequest{Comment: text}, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// OfflineNode takes a node out of service
func (c *Client) OfflineNode(ctx context.Context, name, comment string) error {
	return c.do(ctx, http.MethodPost, "/v1/targets/"+url.PathEscape(name)+"/offline", api.CommentRequest{Comment: comment}, nil)
}

// OnlineNode returns a node to service
func (c *Client) OnlineNode(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/v1/targets/"+url.PathEscape(name)+"/online", nil, nil)
}
