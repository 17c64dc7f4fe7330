// Package profile resolves Minecraft player names and UUIDs through the
// Mojang web APIs.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSessionURL = "https://sessionserver.mojang.com"
	DefaultAPIURL     = "https://api.mojang.com"
)

var ErrNotFound = errors.New("player not found")

// UpstreamError is a non-2xx answer other than "not found".
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("profile lookup %s: unexpected status %d", e.URL, e.StatusCode)
}

type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Client struct {
	http       *http.Client
	sessionURL string
	apiURL     string
}

type Option func(*Client)

// WithBaseURLs points the client at alternative session and API hosts.
func WithBaseURLs(sessionURL, apiURL string) Option {
	return func(c *Client) {
		c.sessionURL = strings.TrimRight(sessionURL, "/")
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		sessionURL: DefaultSessionURL,
		apiURL:     DefaultAPIURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves query, which is either a UUID (with or without dashes) or
// a player name.
func (c *Client) Lookup(ctx context.Context, query string) (*Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}

	var endpoint string
	if isUUID(query) {
		endpoint = c.sessionURL + "/session/minecraft/profile/" + strings.ReplaceAll(query, "-", "")
	} else {
		endpoint = c.apiURL + "/users/profiles/minecraft/" + url.PathEscape(query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &UpstreamError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.ID == "" {
		return nil, ErrNotFound
	}
	return &p, nil
}

// isUUID accepts the 32 hex digit form with or without the four dashes.
func isUUID(s string) bool {
	if len(s) != 32 && len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
