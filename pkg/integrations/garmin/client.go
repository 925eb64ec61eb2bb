// Package garmin is an API client for the Garmin wellness export API.
package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	httputil "github.com/stridecoach/server/pkg/infrastructure/http"
)

const defaultBaseURL = "https://apis.garmin.com/wellness-api/rest"

// TokenProvider supplies the OAuth bearer token for each request.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is an API client for the Garmin wellness endpoints.
type Client struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
}

// NewClient creates a new Garmin wellness API client.
func NewClient(tokens TokenProvider) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		tokens:  tokens,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a client against a non-default endpoint.
// Used for tests and staging environments.
func NewClientWithBaseURL(tokens TokenProvider, baseURL string) *Client {
	c := NewClient(tokens)
	c.baseURL = baseURL
	return c
}

// summaryPaths maps a dataset key to its recent-upload endpoint. Backfill
// endpoints live under /backfill with the same suffix.
var summaryPaths = map[string]string{
	"activities": "/activities",
	"sleeps":     "/sleeps",
	"dailies":    "/dailies",
}

// doRequest performs an authenticated GET and decodes the JSON response
// into out. Non-2xx responses come back as *httputil.HTTPError with the
// body preserved.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httputil.ParseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Permissions returns the scope names the user has granted to this
// application.
func (c *Client) Permissions(ctx context.Context) ([]string, error) {
	var payload struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.doRequest(ctx, "/user/permissions", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Permissions, nil
}

// UserID returns the stable Garmin account identifier for the user.
func (c *Client) UserID(ctx context.Context) (string, error) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := c.doRequest(ctx, "/user/id", nil, &payload); err != nil {
		return "", err
	}
	return payload.UserID, nil
}

// UploadedSummaries pulls summaries for one dataset from the recent-upload
// endpoint. The window is in epoch seconds and must not exceed the vendor's
// 24-hour cap; callers chunk larger ranges.
func (c *Client) UploadedSummaries(ctx context.Context, dataset string, startEpoch, endEpoch int64) ([]map[string]interface{}, error) {
	path, ok := summaryPaths[dataset]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
	query := url.Values{
		"uploadStartTimeInSeconds": {fmt.Sprintf("%d", startEpoch)},
		"uploadEndTimeInSeconds":   {fmt.Sprintf("%d", endEpoch)},
	}
	var records []map[string]interface{}
	if err := c.doRequest(ctx, path, query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// BackfillSummaries pulls summaries for one dataset from the historical
// backfill endpoint. Same windowing rules as UploadedSummaries.
func (c *Client) BackfillSummaries(ctx context.Context, dataset string, startEpoch, endEpoch int64) ([]map[string]interface{}, error) {
	path, ok := summaryPaths[dataset]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
	query := url.Values{
		"summaryStartTimeInSeconds": {fmt.Sprintf("%d", startEpoch)},
		"summaryEndTimeInSeconds":   {fmt.Sprintf("%d", endEpoch)},
	}
	var records []map[string]interface{}
	if err := c.doRequest(ctx, "/backfill"+path, query, &records); err != nil {
		return nil, err
	}
	return records, nil
}
