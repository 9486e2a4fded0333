package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lingest/internal/api"
)

// daemonClient talks to a running lingestd over its HTTP API.
type daemonClient struct {
	base  string
	token string
	http  *http.Client
}

func newDaemonClient(addr, token string) *daemonClient {
	return &daemonClient{
		base:  "http://" + addr,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries the daemon's error payload with its HTTP status.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned HTTP %d", e.StatusCode)
}

func (c *daemonClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var wire struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return &apiError{StatusCode: resp.StatusCode, Message: wire.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *daemonClient) Status(ctx context.Context) (api.Status, error) {
	var status api.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

func (c *daemonClient) List(ctx context.Context, statusFilter string) ([]api.Item, error) {
	path := "/api/items"
	if statusFilter != "" {
		path += "?status=" + url.QueryEscape(statusFilter)
	}
	var resp api.ItemListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *daemonClient) Clear(ctx context.Context, statusFilter string) (int64, error) {
	path := "/api/items"
	if statusFilter != "" {
		path += "?status=" + url.QueryEscape(statusFilter)
	}
	var resp api.ClearResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *daemonClient) Get(ctx context.Context, id int64) (api.Item, error) {
	var item api.Item
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d", id), nil, &item)
	return item, err
}

func (c *daemonClient) Add(ctx context.Context, req api.AddItemRequest) (api.Item, error) {
	var item api.Item
	err := c.do(ctx, http.MethodPost, "/api/items", req, &item)
	return item, err
}

func (c *daemonClient) Sentences(ctx context.Context, id int64) ([]api.Sentence, error) {
	var resp api.SentenceListResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d/sentences", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sentences, nil
}

func (c *daemonClient) Chunks(ctx context.Context, id int64) ([]api.Chunk, error) {
	var resp api.ChunkListResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/items/%d/chunks", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

func (c *daemonClient) Correct(ctx context.Context, id int64, seq int, req api.SentencePatchRequest) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/items/%d/sentences/%d", id, seq), req, nil)
}

func (c *daemonClient) SetReviewed(ctx context.Context, id int64, seq int, reviewed bool) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/sentences/%d/reviewed", id, seq),
		api.ReviewedRequest{Reviewed: &reviewed}, nil)
}

func (c *daemonClient) DeleteSentence(ctx context.Context, id int64, seq int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/items/%d/sentences/%d", id, seq), nil, nil)
}

func (c *daemonClient) FinishReview(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/reviewed", id), nil, nil)
}

func (c *daemonClient) Reopen(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/reopen", id), nil, nil)
}

func (c *daemonClient) Export(ctx context.Context, id int64) ([]api.Sentence, error) {
	var resp api.SentenceListResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/export", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sentences, nil
}

func (c *daemonClient) Repair(ctx context.Context, id int64, req api.RepairRequest) (api.RepairResponse, error) {
	var resp api.RepairResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/repair", id), req, &resp)
	return resp, err
}

func (c *daemonClient) RetryFailed(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/items/%d/retry", id), nil, nil)
}
