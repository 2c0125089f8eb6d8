// Package client provides a Go SDK for the queue HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrLeaseLost is returned by ExtendLease when the server no longer holds a
// lease for the item.
var ErrLeaseLost = errors.New("lease lost")

// Client communicates with the queue API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new queue API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Item is a claimed unit of work.
type Item struct {
	ID      int64           `json:"id"`
	Payload json.RawMessage `json:"payload"`
	Created time.Time       `json:"created"`
}

// CreateItem appends payload to the named queue and returns its id.
func (c *Client) CreateItem(ctx context.Context, queue string, payload json.RawMessage) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, c.queuePath(queue)+"/items",
		map[string]json.RawMessage{"payload": payload}, http.StatusCreated, &resp)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// Claim takes the oldest available item under a lease. A zero lease uses
// the queue default. It returns nil when the queue is empty.
func (c *Client) Claim(ctx context.Context, queue string, lease time.Duration) (*Item, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, c.queuePath(queue)+"/claims", leaseBody(lease))
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var it Item
		if err := json.NewDecoder(resp.Body).Decode(&it); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &it, nil
	default:
		return nil, unexpected(resp)
	}
}

// Release gives a claimed item back to the tail of the queue.
func (c *Client) Release(ctx context.Context, queue string, id int64) error {
	return c.do(ctx, http.MethodPost, c.itemPath(queue, id)+"/release", nil, http.StatusNoContent, nil)
}

// ExtendLease pushes out the lease on a claimed item.
func (c *Client) ExtendLease(ctx context.Context, queue string, id int64, lease time.Duration) error {
	err := c.do(ctx, http.MethodPost, c.itemPath(queue, id)+"/lease", leaseBody(lease), http.StatusNoContent, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return fmt.Errorf("item %d: %w", id, ErrLeaseLost)
	}
	return err
}

// Delete acknowledges a claimed item as done.
func (c *Client) Delete(ctx context.Context, queue string, id int64) error {
	return c.do(ctx, http.MethodDelete, c.itemPath(queue, id), nil, http.StatusNoContent, nil)
}

// Count returns the number of available plus claimed items.
func (c *Client) Count(ctx context.Context, queue string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, c.queuePath(queue), nil, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DeleteQueue removes the queue and everything in it.
func (c *Client) DeleteQueue(ctx context.Context, queue string) error {
	return c.do(ctx, http.MethodDelete, c.queuePath(queue), nil, http.StatusNoContent, nil)
}

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (c *Client) queuePath(queue string) string {
	return c.baseURL + "/api/v1/queues/" + url.PathEscape(queue)
}

func (c *Client) itemPath(queue string, id int64) string {
	return fmt.Sprintf("%s/items/%d", c.queuePath(queue), id)
}

func (c *Client) newRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (c *Client) do(ctx context.Context, method, u string, body any, want int, out any) error {
	httpReq, err := c.newRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return unexpected(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func unexpected(resp *http.Response) error {
	respBody, _ := io.ReadAll(resp.Body)
	return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
}

func leaseBody(lease time.Duration) any {
	if lease <= 0 {
		return nil
	}
	return map[string]int{"lease_seconds": int(lease / time.Second)}
}
