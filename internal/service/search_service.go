package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/niikun/social-listening/internal/cache"
	"github.com/niikun/social-listening/internal/metrics"
	"github.com/niikun/social-listening/internal/model"
)

const maxSimulatedSnippets = 5

// SearchService fetches grounding context and degrades to simulated snippets
// whenever the live backend cannot answer. Fetch never fails.
type SearchService struct {
	backend SearchBackend
	cache   cache.SearchCache
	timeout time.Duration
	group   singleflight.Group
	logger  *zap.Logger
}

// NewSearchService creates a search service. backend and searchCache may be nil.
func NewSearchService(backend SearchBackend, searchCache cache.SearchCache, timeout time.Duration, logger *zap.Logger) *SearchService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &SearchService{
		backend: backend,
		cache:   searchCache,
		timeout: timeout,
		logger:  logger.Named("search"),
	}
}

// Probe checks once whether live search is usable
func (s *SearchService) Probe(ctx context.Context) (model.SearchMode, string) {
	if s.backend == nil {
		return model.SearchSimulated, "no search backend configured"
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.backend.Search(probeCtx, "news", 1)
	if err != nil && !isNoResults(err) {
		s.logger.Warn("search backend unavailable, runs will use simulated context",
			zap.String("backend", s.backend.Name()), zap.Error(err))
		return model.SearchSimulated, err.Error()
	}
	return model.SearchLive, ""
}

// Fetch returns grounding context for query. In simulated mode the backend is
// never contacted.
func (s *SearchService) Fetch(ctx context.Context, query string, maxResults int, mode model.SearchMode) model.SearchContext {
	if maxResults <= 0 {
		maxResults = maxSimulatedSnippets
	}
	if mode != model.SearchLive || s.backend == nil {
		metrics.SearchRequestsTotal.WithLabelValues("simulated").Inc()
		return SimulatedContext(query, maxResults, "search backend unavailable at preflight")
	}

	if s.cache != nil {
		cached, err := s.cache.GetSnippets(ctx, query, maxResults)
		if err != nil {
			s.logger.Debug("search cache read failed", zap.Error(err))
		} else if len(cached) > 0 {
			metrics.SearchRequestsTotal.WithLabelValues("cache_hit").Inc()
			return model.SearchContext{Query: query, Snippets: cached, FetchedAt: time.Now()}
		}
	}

	key := query + "\x00" + strconv.Itoa(maxResults)
	// The shared call outlives any single caller; each caller only stops
	// waiting on its own cancellation.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		searchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.backend.Search(searchCtx, query, maxResults)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("fallback").Inc()
		s.logger.Warn("live search failed, using simulated context",
			zap.String("query", query), zap.Error(err))
		return SimulatedContext(query, maxResults, err.Error())
	}

	// Copy so callers sharing a singleflight result never alias each other
	snippets := append([]model.Snippet(nil), v.([]model.Snippet)...)
	if s.cache != nil {
		if err := s.cache.SetSnippets(ctx, query, maxResults, snippets); err != nil {
			s.logger.Debug("search cache write failed", zap.Error(err))
		}
	}
	metrics.SearchRequestsTotal.WithLabelValues("live").Inc()
	return model.SearchContext{Query: query, Snippets: snippets, FetchedAt: time.Now()}
}

// SimulatedContext builds deterministic placeholder snippets from the query
func SimulatedContext(query string, maxResults int, reason string) model.SearchContext {
	n := maxResults
	if n > maxSimulatedSnippets {
		n = maxSimulatedSnippets
	}
	if n <= 0 {
		n = 1
	}
	topic := strings.TrimSpace(query)
	snippets := make([]model.Snippet, n)
	for i := range snippets {
		snippets[i] = model.Snippet{
			Title:   fmt.Sprintf("Latest on %s (%d)", topic, i+1),
			URL:     fmt.Sprintf("https://example%d.com", i+1),
			Excerpt: fmt.Sprintf("Government officials and experts have shared new views on %s. Public interest is growing and the debate continues.", topic),
			Rank:    i + 1,
		}
	}
	return model.SearchContext{
		Query:          query,
		Snippets:       snippets,
		Simulated:      true,
		FallbackReason: reason,
		FetchedAt:      time.Now(),
	}
}

var searchTopics = []struct {
	keyword string
	query   string
}{
	{"politic", "politics 2025"},
	{"政治", "日本 政治 2025"},
	{"econom", "economy 2025"},
	{"経済", "日本 経済 2025"},
	{"birth rate", "declining birth rate policy 2025"},
	{"少子化", "少子化対策 2025"},
	{"environment", "environmental policy"},
	{"環境", "環境問題 日本"},
	{"education", "education system reform"},
	{"教育", "教育制度 日本"},
}

// SearchQueryFor derives a search query from a question: known topic
// keywords map to focused queries, otherwise the first 20 runes are used
func SearchQueryFor(q model.SurveyQuestion) string {
	if q.SearchQuery != "" {
		return q.SearchQuery
	}
	lower := strings.ToLower(q.Text)
	var parts []string
	for _, t := range searchTopics {
		if strings.Contains(lower, t.keyword) {
			parts = append(parts, t.query)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	r := []rune(strings.TrimSpace(q.Text))
	if len(r) > 20 {
		r = r[:20]
	}
	return string(r)
}
