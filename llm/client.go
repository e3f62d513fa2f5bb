// Package llm is the client for the generative-AI gateway used to turn
// meeting transcripts into notes.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

func NewClientFromEnv() *Client {
	base := os.Getenv("LLM_BASE_URL")
	key := os.Getenv("LLM_API_KEY")
	if base == "" {
		base = "http://127.0.0.1:8000/v1"
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		APIKey:  key,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

// CreateChatCompletion posts the request to the gateway's chat-completions
// endpoint. Transient failures (network, 5xx, 429) are retried once against
// the fallback model when one is configured; 4xx responses are permanent.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	fallback := os.Getenv("LLM_FALLBACK_MODEL")
	model := req.Model
	if model == "" {
		model = os.Getenv("LLM_MODEL")
	}
	if model == "" {
		model = "local"
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	cfgMax := 4000
	if mt := os.Getenv("LLM_MAX_TOKENS"); mt != "" {
		var parsed int
		fmt.Sscanf(mt, "%d", &parsed)
		if parsed > 0 {
			cfgMax = parsed
		}
	}
	if maxTokens > cfgMax {
		maxTokens = cfgMax
	}

	req.Model = model
	req.MaxTokens = maxTokens

	resp, err := c.post(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrTransient) && fallback != "" && fallback != model {
		// small backoff before the fallback attempt
		time.Sleep(250 * time.Millisecond)
		req.Model = fallback
		return c.post(ctx, req)
	}
	return ChatResponse{}, err
}

func (c *Client) post(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	bodyBytes, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		content := ""
		if len(out.Choices) > 0 {
			content = out.Choices[0].Message.Content
		}
		return ChatResponse{ID: "resp", Content: content}, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return ChatResponse{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	return ChatResponse{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}
