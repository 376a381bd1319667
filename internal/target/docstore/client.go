// Package docstore writes reconciled changes to the document database over
// its REST API. Every body it writes carries a sync marker so the relay can
// recognize its own writes when they echo back as change notifications.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sync_relay/internal/domain"
	"sync_relay/internal/loopguard"
	"sync_relay/internal/retry"
)

const PlatformID = "docstore"

type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MarkerNamespace string
}

// Client implements the reconciler's write collaborator against the
// docstore pages API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	token           string
	markerNamespace string
	logger          *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:         cfg.BaseURL,
		token:           cfg.Token,
		markerNamespace: cfg.MarkerNamespace,
		logger:          logger.With("target", PlatformID),
	}
}

// Write creates the page when the intent carries no target id and updates
// it otherwise. Client errors other than rate limits come back wrapped as
// permanent so the caller does not retry them.
func (c *Client) Write(ctx context.Context, intent *domain.WriteIntent) (*domain.WriteResult, error) {
	body := intent.Body
	if !loopguard.HasMarker(body, c.markerNamespace) {
		body += "\n\n" + loopguard.Marker(c.markerNamespace, intent.EntityID)
	}

	req := pageRequest{
		Title:      intent.Title,
		Body:       body,
		Status:     intent.State,
		Tags:       intent.Labels,
		SourceURL:  intent.SourceURL,
		ExternalID: intent.EntityID,
	}

	method := http.MethodPost
	url := c.baseURL + "/pages"
	if intent.TargetID != "" {
		method = http.MethodPatch
		url = c.baseURL + "/pages/" + intent.TargetID
	}

	resp, err := c.do(ctx, method, url, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("page written",
		"entity_id", intent.EntityID,
		"target_id", resp.ID,
		"method", method,
	)

	return &domain.WriteResult{TargetID: resp.ID, TargetURL: resp.URL}, nil
}

func (c *Client) do(ctx context.Context, method, url string, body pageRequest) (*pageResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal page request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited: %s", readError(resp.Body))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, retry.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp.Body)))
	default:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, readError(resp.Body))
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &page, nil
}

func readError(r io.Reader) string {
	var e errorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err == nil && e.Message != "" {
		return e.Message
	}
	return "no error detail"
}
