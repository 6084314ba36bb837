package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leaseline/voicebridge/pkg/bridge/tools"
	"github.com/leaseline/voicebridge/pkg/core"
)

// AcceptRequest configures the AI session for an incoming call. Only a 2xx
// from the provider permits session creation.
type AcceptRequest struct {
	CallID       string       `json:"call_id"`
	Model        string       `json:"model"`
	Instructions string       `json:"instructions"`
	Voice        string       `json:"voice"`
	Tools        []tools.Tool `json:"tools"`
}

// ProviderClient calls the AI provider's REST surface.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewProviderClient builds a provider client. httpClient may be nil.
func NewProviderClient(baseURL, apiKey string, httpClient *http.Client, timeout time.Duration) *ProviderClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProviderClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// AcceptCall asks the provider to answer the call with the given session
// configuration.
func (c *ProviderClient) AcceptCall(ctx context.Context, req AcceptRequest) error {
	if c == nil {
		return core.NewInvalidRequestError("provider client must not be nil")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode accept request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/calls/%s/accept", c.baseURL, req.CallID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build accept request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.NewProviderError("provider", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return core.NewProviderError("provider", fmt.Errorf("accept-call returned %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	return nil
}
