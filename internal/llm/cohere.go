package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// CohereProvider calls the Cohere v2 chat API.
type CohereProvider struct {
	apiKey  string
	model   string
	baseURL string
	cfg     Config
	client  *http.Client
}

// Name returns the provider name.
func (p *CohereProvider) Name() string { return Cohere }

// Complete sends text as a single user message.
func (p *CohereProvider) Complete(ctx context.Context, text string) (string, error) {
	payload := cohereRequest{
		Model:       p.model,
		Messages:    []cohereMessage{{Role: "user", Content: text}},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/v2/chat"

	var result cohereResponse
	err := postJSON(ctx, p.client, endpoint, map[string]string{"Authorization": "Bearer " + p.apiKey}, payload, &result,
		func(status int, body []byte) error {
			var errResp cohereErrorResponse
			if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
				return fmt.Errorf("API error: %s", errResp.Message)
			}
			return fmt.Errorf("API error: status %d", status)
		})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range result.Message.Content {
		if c.Type == "" || c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

// Cohere API request/response types

type cohereRequest struct {
	Model       string          `json:"model"`
	Messages    []cohereMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type cohereMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type cohereResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}
