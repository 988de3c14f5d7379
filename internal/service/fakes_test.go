package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/model"
)

// fakeCompleter answers through respond, counting calls per persona
type fakeCompleter struct {
	mu      sync.Mutex
	calls   map[string]int
	pingErr error
	respond func(ctx context.Context, req ChatRequest, call int) (ChatResponse, error)
}

func newFakeCompleter(respond func(ctx context.Context, req ChatRequest, call int) (ChatResponse, error)) *fakeCompleter {
	return &fakeCompleter{calls: make(map[string]int), respond: respond}
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeCompleter) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	key := req.Meta["persona_id"]
	f.mu.Lock()
	f.calls[key]++
	call := f.calls[key]
	f.mu.Unlock()
	return f.respond(ctx, req, call)
}

func (f *fakeCompleter) callsFor(personaID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[personaID]
}

func (f *fakeCompleter) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func answering(text string) func(context.Context, ChatRequest, int) (ChatResponse, error) {
	return func(context.Context, ChatRequest, int) (ChatResponse, error) {
		return ChatResponse{Text: text}, nil
	}
}

var errUpstream = errors.New("upstream 503")

func transientErr() error {
	return &ProviderError{Kind: KindTransient, Status: 503, Err: errUpstream}
}

// fakeBackend is a SearchBackend with a scripted result
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	snippets []model.Snippet
	err      error
	// probeOK lets the capability probe pass even when err is set
	probeOK bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Search(ctx context.Context, query string, max int) ([]model.Snippet, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.probeOK && query == "news" {
		return []model.Snippet{{Title: "probe", Rank: 1}}, nil
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.snippets) > max {
		return b.snippets[:max], nil
	}
	return b.snippets, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestClient(c ChatCompleter) *ModelClient {
	return NewModelClient(c, ModelClientOptions{
		Model:         "gpt-4o-mini",
		MaxTokens:     100,
		ContextWindow: 8192,
		Timeout:       2 * time.Second,
		Retry:         RetryPolicy{MaxAttempts: 1},
	}, zap.NewNop())
}

func testPersonas(n int) []model.Persona {
	seed := int64(42)
	personas, err := NewPersonaGenerator(nil).Generate(n, &seed)
	if err != nil {
		panic(err)
	}
	return personas
}
