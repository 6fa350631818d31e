// Package retrieval implements the semantic-retrieval adapter
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"handoff-engine/internal/core/domain"
)

// Errors returned by the retrieval client
var (
	// ErrUnavailable means the service could not be reached or answered 5xx after all retries
	ErrUnavailable = errors.New("retrieval service unavailable")

	// ErrRejected means the service refused the request (4xx); retrying will not help
	ErrRejected = errors.New("retrieval request rejected")
)

const maxRetries = 3

// Client calls a retrieval service over HTTP JSON:
//
//	POST {baseURL}/retrieve {"projectId","query","topK"} -> {"chunks":[...]}
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	backoff    time.Duration
}

// NewClient creates a retrieval client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		backoff:    200 * time.Millisecond,
	}
}

type retrieveRequest struct {
	ProjectID string `json:"projectId"`
	Query     string `json:"query"`
	TopK      int    `json:"topK"`
}

type retrieveResponse struct {
	Chunks []domain.Chunk `json:"chunks"`
}

// Retrieve returns up to topK chunks ordered by descending score.
// Network errors and 5xx answers are retried with linear backoff.
func (c *Client) Retrieve(ctx context.Context, projectID, query string, topK int) ([]domain.Chunk, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		chunks, err := c.retrieveAttempt(ctx, projectID, query, topK)
		if err == nil {
			return chunks, nil
		}
		if errors.Is(err, ErrRejected) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			slog.Warn("Retrying retrieval call",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, maxRetries, lastErr)
}

func (c *Client) retrieveAttempt(ctx context.Context, projectID, query string, topK int) ([]domain.Chunk, error) {
	payload, err := json.Marshal(retrieveRequest{ProjectID: projectID, Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/retrieve", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("retrieval error %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		slog.Error("Retrieval request rejected",
			"status_code", resp.StatusCode,
			"body", string(body),
		)
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var out retrieveResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	sort.SliceStable(out.Chunks, func(i, j int) bool {
		return out.Chunks[i].Score > out.Chunks[j].Score
	})
	if topK > 0 && len(out.Chunks) > topK {
		out.Chunks = out.Chunks[:topK]
	}
	return out.Chunks, nil
}
