package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GeminiProvider calls the Gemini generateContent API.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	cfg     Config
	client  *http.Client
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string { return Gemini }

// Complete sends text as a single user turn.
func (p *GeminiProvider) Complete(ctx context.Context, text string) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.cfg.Temperature,
			MaxOutputTokens: p.cfg.MaxTokens,
		},
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.baseURL, "/"), url.PathEscape(p.model))

	var result geminiResponse
	err := postJSON(ctx, p.client, endpoint, map[string]string{"x-goog-api-key": p.apiKey}, payload, &result,
		func(status int, body []byte) error {
			var errResp geminiErrorResponse
			if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
				return fmt.Errorf("API error: %s", errResp.Error.Message)
			}
			return fmt.Errorf("API error: status %d", status)
		})
	if err != nil {
		return "", err
	}

	if len(result.Candidates) == 0 {
		if result.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", result.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("empty candidates array")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Gemini API request/response types

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
