// Package telephony places voice-agent calls and reconciles the provider's
// call lifecycle webhooks with local call and case state.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

const outboundCallPath = "/v1/convai/outbound-call"

// Client calls the voice-agent provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client.
func NewClient(cfg domain.TelephonyConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type outboundCallRequest struct {
	AgentID            string             `json:"agent_id"`
	AgentPhoneNumberID string             `json:"agent_phone_number_id,omitempty"`
	ToNumber           string             `json:"to_number"`
	ClientData         *initiationRequest `json:"conversation_initiation_client_data,omitempty"`
}

type initiationRequest struct {
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

type outboundCallResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"callSid"`
}

// PlaceCall starts an outbound call and returns the provider conversation id.
func (c *Client) PlaceCall(ctx context.Context, req *domain.CallRequest) (*domain.CallPlacement, error) {
	if c.baseURL == "" {
		return nil, errors.New("telephony base URL is not configured")
	}
	if req.AgentID == "" || req.ToNumber == "" {
		return nil, fmt.Errorf("%w: agent id and destination number are required", domain.ErrInvalidInput)
	}

	payload := outboundCallRequest{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: req.PhoneNumberID,
		ToNumber:           req.ToNumber,
	}
	if len(req.DynamicVariables) > 0 {
		payload.ClientData = &initiationRequest{DynamicVariables: req.DynamicVariables}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+outboundCallPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to telephony provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("telephony provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out outboundCallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if !out.Success || out.ConversationID == "" {
		return nil, fmt.Errorf("telephony provider rejected call: %s", out.Message)
	}

	return &domain.CallPlacement{ExternalID: out.ConversationID}, nil
}
