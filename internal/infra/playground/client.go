// Package playground is the HTTP client of the repository-retrieval service,
// which clones repositories and serves their tree and file contents.
package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bryanwahyu/automaton-reposcan/internal/domain/scans"
)

// Options of the client. Zero values take the defaults below.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

const (
	defaultTimeout      = 120 * time.Second
	defaultRetryCount   = 3
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryMaxWait = 5 * time.Second
)

type Client struct {
	http *resty.Client
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	} else if opts.RetryCount == 0 {
		opts.RetryCount = defaultRetryCount
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = defaultRetryMaxWait
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			// retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == http.StatusTooManyRequests || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	return &Client{http: c}
}

type cloneResponse struct {
	RepoID string `json:"repo_id"`
}

// Clone asks the service to clone a repository and returns its handle.
func (c *Client) Clone(ctx context.Context, repoURL, branch string) (string, error) {
	var out cloneResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"repo_url": repoURL, "branch": branch}).
		Post("/clone")
	if err := decode(resp, err, "clone", &out); err != nil {
		return "", err
	}
	if out.RepoID == "" {
		return "", fmt.Errorf("%w: clone returned no repo_id", scans.ErrSourceUnavailable)
	}
	return out.RepoID, nil
}

type treeResponse struct {
	Structure  map[string]scans.TreeNode `json:"structure"`
	TotalLines int                       `json:"total_lines"`
	FileTypes  map[string]int            `json:"file_types"`
	Languages  map[string]int            `json:"languages"`
}

// Tree lists the cloned repository.
func (c *Client) Tree(ctx context.Context, repoID string) (*scans.Tree, error) {
	var out treeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("repo_id", repoID).
		Get("/generate")
	if err := decode(resp, err, "generate", &out); err != nil {
		return nil, err
	}
	return &scans.Tree{
		Structure: out.Structure,
		Info: scans.RepositoryInfo{
			TotalLines: out.TotalLines,
			FileTypes:  out.FileTypes,
			Languages:  out.Languages,
		},
	}, nil
}

// FetchFile returns the raw content of one file. A missing file or one
// without content fails only that file; transport and server errors are
// reported as ErrSourceUnavailable.
func (c *Client) FetchFile(ctx context.Context, repoID, path string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"repo_id": repoID, "path": path}).
		Get("/file")
	if err != nil {
		return "", fmt.Errorf("%w: file %s: %v", scans.ErrSourceUnavailable, path, err)
	}
	switch {
	case resp.StatusCode() >= 500:
		return "", fmt.Errorf("%w: file %s: status %d", scans.ErrSourceUnavailable, path, resp.StatusCode())
	case resp.IsError():
		return "", fmt.Errorf("%w: %s (status %d)", scans.ErrFileNotFound, path, resp.StatusCode())
	}
	content := decodeContent(resp.Body())
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: %s", scans.ErrEmptyContent, path)
	}
	return content, nil
}

// decodeContent accepts a bare text body, a JSON string, or an object with
// a content or data field. A field that is not a string (the service wraps
// JSON files as objects) is returned as its raw JSON.
func decodeContent(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var obj struct {
			Content json.RawMessage `json:"content"`
			Data    json.RawMessage `json:"data"`
		}
		if json.Unmarshal(body, &obj) == nil {
			if s, ok := rawText(obj.Content); ok {
				return s
			}
			if s, ok := rawText(obj.Data); ok {
				return s
			}
		}
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if json.Unmarshal(body, &s) == nil {
			return s
		}
	}
	return string(body)
}

func rawText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, true
	}
	return string(raw), true
}

// decode parses a JSON body regardless of the declared content type.
func decode(resp *resty.Response, err error, op string, out any) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", scans.ErrSourceUnavailable, op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: status %d: %s", scans.ErrSourceUnavailable, op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s: invalid response: %v", scans.ErrSourceUnavailable, op, err)
	}
	return nil
}

// Ping is used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("playground returned status %d", resp.StatusCode())
	}
	return nil
}
