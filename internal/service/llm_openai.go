package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
)

var errMissingAPIKey = errors.New("API key is not set")

// OpenAICompleter calls an OpenAI-compatible chat-completions endpoint
type OpenAICompleter struct {
	baseURL  string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOpenAICompleter creates a completer from the AI config. Per-attempt
// timeouts come from the caller's context.
func NewOpenAICompleter(cfg *config.AIConfig) *OpenAICompleter {
	return &OpenAICompleter{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		endpoint: cfg.ChatEndpoint(),
		apiKey:   cfg.APIKey,
		client:   &http.Client{},
	}
}

func (c *OpenAICompleter) Name() string {
	return string(config.ProviderOpenAI)
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete makes one chat-completions request
func (c *OpenAICompleter) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if c.apiKey == "" {
		return ChatResponse{}, &ProviderError{Kind: KindAuth, Err: errMissingAPIKey}
	}

	jsonBody, err := json.Marshal(openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return ChatResponse{}, &ProviderError{Kind: KindPermanent, Err: err}
	}

	body, err := c.do(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return ChatResponse{}, err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ChatResponse{}, &ProviderError{Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return ChatResponse{}, &ProviderError{Kind: KindTransient, Err: errors.New("empty response from model")}
	}

	return ChatResponse{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// Ping lists models, which needs a valid key but generates nothing
func (c *OpenAICompleter) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return &ProviderError{Kind: KindAuth, Err: errMissingAPIKey}
	}
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/models", nil)
	return err
}

func (c *OpenAICompleter) do(ctx context.Context, method, url string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &ProviderError{Kind: KindPermanent, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, providerMessage(respBody))
	}
	return respBody, nil
}

// classifyStatus maps an HTTP status to an error kind
func classifyStatus(status int, message string) error {
	kind := KindPermanent
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		kind = KindTransient
	}
	return &ProviderError{Kind: kind, Status: status, Err: errors.New(message)}
}

func providerMessage(body []byte) string {
	var eb openAIErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return trimRunes(string(body), 200)
}
