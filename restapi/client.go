// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package restapi is the HTTP client for the remote roster API. The server is
// an external collaborator: this package only knows its documented endpoints
// (paginated list endpoints returning {data, hasMore}, plus per-record
// POST/PUT/DELETE) and its error envelope.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Record is a remote row as received on the wire. Field names are camelCase
// and match the local column names, so records round-trip without mapping.
type Record = map[string]any

// Page is one page of a paginated list endpoint.
type Page struct {
	Data    []Record `json:"data"`
	HasMore bool     `json:"hasMore"`
}

// TokenFunc returns the current access token, or an error when the user is
// not authenticated.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote roster API.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
}

// NewClient creates a client with a sane default HTTP timeout.
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ListPage fetches a single page of a collection resource such as "teams".
func (c *Client) ListPage(ctx context.Context, resource string, page, limit int) (*Page, error) {
	endpoint := fmt.Sprintf("%s/%s?%s", c.BaseURL, resource, url.Values{
		"page":  []string{fmt.Sprint(page)},
		"limit": []string{fmt.Sprint(limit)},
	}.Encode())

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result Page
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode %s page: %w", resource, err)
	}
	return &result, nil
}

// ListAll drains every page of a collection resource. Used by the reference
// refresh path, which reconciles against the complete remote set.
func (c *Client) ListAll(ctx context.Context, resource string, limit int) ([]Record, error) {
	var all []Record
	for page := 1; ; page++ {
		result, err := c.ListPage(ctx, resource, page, limit)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Data...)
		if !result.HasMore {
			return all, nil
		}
	}
}

// Create pushes a brand-new record (POST /resource).
func (c *Client) Create(ctx context.Context, resource string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", resource, err)
	}
	_, err = c.do(ctx, http.MethodPost, c.BaseURL+"/"+resource, payload)
	return err
}

// Update pushes a new version of a record the server already knows
// (PUT /resource/{id}).
func (c *Client) Update(ctx context.Context, resource, id string, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", resource, err)
	}
	_, err = c.do(ctx, http.MethodPut, c.BaseURL+"/"+resource+"/"+id, payload)
	return err
}

// Delete propagates a deletion (DELETE /resource/{id}).
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.BaseURL+"/"+resource+"/"+id, nil)
	return err
}

// do executes one authenticated request and returns the response body.
// Non-2xx statuses come back as *APIError so callers can classify them.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}
