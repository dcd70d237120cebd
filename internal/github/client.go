// Package github talks to the GitHub REST API, validates and parses webhook
// deliveries, and runs the OAuth web flow.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/protohost/internal/logfields"
)

const defaultAPIURL = "https://api.github.com"

// ErrNotFound is matched by APIError for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GitHub API error: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("GitHub API error: %s", e.Status)
}

// Is matches ErrNotFound for 404s.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Owner is the account a repository belongs to.
type Owner struct {
	Login     string `json:"login"`
	ID        int64  `json:"id"`
	AvatarURL string `json:"avatarUrl"`
}

// Repository is the repository shape returned to API clients.
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Description   string `json:"description,omitempty"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"htmlUrl"`
	CloneURL      string `json:"cloneUrl"`
	DefaultBranch string `json:"defaultBranch"`
	Owner         Owner  `json:"owner"`
}

// githubRepo is the wire shape of a repository.
type githubRepo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login     string `json:"login"`
		ID        int64  `json:"id"`
		AvatarURL string `json:"avatar_url"`
	} `json:"owner"`
}

func (g *githubRepo) convert() Repository {
	return Repository{
		ID:            g.ID,
		Name:          g.Name,
		FullName:      g.FullName,
		Description:   g.Description,
		Private:       g.Private,
		HTMLURL:       g.HTMLURL,
		CloneURL:      g.CloneURL,
		DefaultBranch: g.DefaultBranch,
		Owner:         Owner{Login: g.Owner.Login, ID: g.Owner.ID, AvatarURL: g.Owner.AvatarURL},
	}
}

// Client is a minimal GitHub REST client.
type Client struct {
	httpClient    *http.Client
	apiURL        string
	token         string
	webhookURL    string
	webhookSecret string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithWebhook sets the delivery URL and secret used by CreateWebhook.
func WithWebhook(deliveryURL, secret string) Option {
	return func(c *Client) {
		c.webhookURL = deliveryURL
		c.webhookSecret = secret
	}
}

// NewClient creates a client for apiURL (empty means api.github.com). token
// authenticates webhook management calls.
func NewClient(apiURL, token string, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRepository fetches owner/repo. An empty token makes an anonymous request.
func (c *Client) GetRepository(ctx context.Context, owner, repo, token string) (*Repository, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, token)
	if err != nil {
		return nil, err
	}
	var g githubRepo
	if err := c.doRequest(req, &g); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("Repository %s/%s not found or not accessible: %w", owner, repo, err)
		}
		return nil, err
	}
	r := g.convert()
	return &r, nil
}

// ListUserRepositories lists repositories of the token's user, most recently updated first.
func (c *Client) ListUserRepositories(ctx context.Context, token string) ([]Repository, error) {
	if token == "" {
		return nil, errors.New("access token is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/user/repos", nil, token)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("sort", "updated")
	q.Set("per_page", "100")
	req.URL.RawQuery = q.Encode()

	var raw []githubRepo
	if err := c.doRequest(req, &raw); err != nil {
		return nil, err
	}
	repos := make([]Repository, 0, len(raw))
	for i := range raw {
		repos = append(repos, raw[i].convert())
	}
	return repos, nil
}

// CreateWebhook registers the push and repository webhook on owner/repo and returns its id.
func (c *Client) CreateWebhook(ctx context.Context, owner, repo string) (int64, error) {
	if c.webhookURL == "" {
		return 0, errors.New("webhook delivery URL is not configured")
	}
	payload := map[string]any{
		"config": map[string]any{
			"url":          c.webhookURL,
			"content_type": "json",
			"secret":       c.webhookSecret,
		},
		"events": []string{"push", "repository"},
		"active": true,
	}
	req, err := c.newRequest(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/hooks", owner, repo), payload, c.token)
	if err != nil {
		return 0, err
	}
	var result struct {
		ID int64 `json:"id"`
	}
	if err := c.doRequest(req, &result); err != nil {
		return 0, fmt.Errorf("Failed to create GitHub webhook: %w", err)
	}
	slog.Info("Created GitHub webhook", slog.String("repository", owner+"/"+repo), slog.Int64("hook_id", result.ID))
	return result.ID, nil
}

// DeleteWebhook removes a webhook. A hook that is already gone is not an error.
func (c *Client) DeleteWebhook(ctx context.Context, owner, repo string, hookID int64) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/hooks/%s", owner, repo, strconv.FormatInt(hookID, 10))
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil, c.token)
	if err != nil {
		return err
	}
	if err := c.doRequest(req, nil); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any, token string) (*http.Request, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, endpoint)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "protohost/1.0")
	return req, nil
}

func (c *Client) doRequest(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var body struct {
			Message string `json:"message"`
		}
		if data, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); rerr == nil && json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		slog.Debug("GitHub API request failed", logfields.Method(req.Method), logfields.Path(req.URL.Path),
			slog.Int("status", resp.StatusCode))
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}
