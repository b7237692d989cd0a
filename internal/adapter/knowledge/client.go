package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relay-ai/internal/infra/config"
)

// maxResponseBody caps the context payload read from the knowledge service.
const maxResponseBody = 1 << 20 // 1 MB

// Client fetches retrieval context from the external knowledge service over
// HTTP. The service is a black box: query in, relevant snippets out.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a knowledge client from config.
func NewClient(cfg config.KnowledgeConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type contextRequest struct {
	AgentID string `json:"agent_id"`
	Query   string `json:"query"`
}

type contextResponse struct {
	Context string `json:"context"`
}

// Context returns retrieval context for the query, empty when the service
// has nothing relevant.
func (c *Client) Context(ctx context.Context, agentID, query string) (string, error) {
	body, err := json.Marshal(contextRequest{AgentID: agentID, Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/context", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("knowledge request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("knowledge service status %d: %s", httpResp.StatusCode, respBody)
	}

	var resp contextResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Context, nil
}

// Noop is a knowledge client that always returns no context. Used when the
// knowledge service is disabled.
type Noop struct{}

// Context implements the coordinator's knowledge interface.
func (Noop) Context(ctx context.Context, agentID, query string) (string, error) {
	return "", nil
}
