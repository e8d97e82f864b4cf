// Package authentik retrieves the user list from an Authentik identity
// provider through its cursor-paginated core API.
package authentik

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/config"
	"github.com/samandartukhtayev/authentik-sync/models"
)

const usersPath = "/api/v3/core/users/"

// maxErrorBody bounds how much of a failed response is quoted in the error
const maxErrorBody = 512

// Client talks to the Authentik API with a bearer token
type Client struct {
	baseURL  *url.URL
	token    string
	pageSize int
	http     *http.Client
	log      *slog.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default client built from the configured timeout
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for per-page debug output
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a client for the given provider configuration
func NewClient(cfg config.AuthentikConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.Wrap(models.ErrConfigMissing, "authentik base URL and token are required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(models.ErrConfigMissing, "invalid authentik base URL %q: %v", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrapf(models.ErrConfigMissing, "authentik base URL %q must be absolute", cfg.BaseURL)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	c := &Client{
		baseURL:  base,
		token:    cfg.Token,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// firstPageURL is where every walk starts
func (c *Client) firstPageURL() *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + usersPath
	u.RawQuery = url.Values{"page_size": {strconv.Itoa(c.pageSize)}}.Encode()
	return &u
}

// Users starts a fresh pagination walk from page one
func (c *Client) Users(ctx context.Context) *UserIterator {
	first := c.firstPageURL()
	return &UserIterator{
		client: c,
		ctx:    ctx,
		next:   first,
		seen:   map[string]struct{}{first.String(): {}},
	}
}

// FetchAll drains a full walk into memory. Either every user is returned or
// none is.
func (c *Client) FetchAll(ctx context.Context) ([]models.UserRecord, error) {
	it := c.Users(ctx)

	var records []models.UserRecord
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	c.log.Info("Fetched users from authentik", "users", len(records), "pages", it.Pages())
	return records, nil
}

// getPage performs one GET and decodes the page envelope
func (c *Client) getPage(ctx context.Context, u *url.URL) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(models.ErrFetchFailed, "failed to build request for %s: %v", u.Redacted(), err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(models.ErrFetchFailed, "GET %s: %v", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Wrapf(models.ErrFetchFailed, "GET %s: unexpected status %s: %s",
			u.Redacted(), resp.Status, strings.TrimSpace(string(body)))
	}

	p, err := decodePage(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(models.ErrFetchFailed, "GET %s: %v", u.Redacted(), err)
	}
	return p, nil
}
