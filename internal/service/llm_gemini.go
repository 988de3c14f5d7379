package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
)

// GeminiCompleter calls Gemini through the generative-ai SDK
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a Gemini client. modelName is used by Ping.
func NewGeminiCompleter(ctx context.Context, apiKey, modelName string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrConfig)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: modelName}, nil
}

func (g *GeminiCompleter) Name() string {
	return string(config.ProviderGemini)
}

// Close releases the underlying connection
func (g *GeminiCompleter) Close() error {
	return g.client.Close()
}

// Complete makes one GenerateContent call
func (g *GeminiCompleter) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	m := g.client.GenerativeModel(req.Model)
	m.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	var system, user []string
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
		} else {
			user = append(user, msg.Content)
		}
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(strings.Join(user, "\n\n")))
	if err != nil {
		return ChatResponse{}, classifyGeminiError(err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return ChatResponse{}, &ProviderError{Kind: KindTransient, Err: errors.New("empty response from Gemini")}
	}

	out := ChatResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// Ping fetches model metadata, which needs a valid key
func (g *GeminiCompleter) Ping(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.model).Info(ctx); err != nil {
		return classifyGeminiError(err)
	}
	return nil
}

// classifyGeminiError handles both REST (googleapi) and gRPC status errors
func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyStatus(gerr.Code, gerr.Message)
	}
	if st, ok := status.FromError(err); ok {
		kind := KindPermanent
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			kind = KindAuth
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			kind = KindTransient
		}
		return &ProviderError{Kind: kind, Err: err}
	}
	return &ProviderError{Kind: KindTransient, Err: err}
}
