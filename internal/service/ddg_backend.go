package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/niikun/social-listening/internal/model"
)

const excerptLimit = 200

// errNoResults means the backend answered but had nothing for the query
var errNoResults = fmt.Errorf("%w: no results", ErrSearchUnavailable)

// SearchBackend is a live web search provider
type SearchBackend interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.Snippet, error)
	Name() string
}

// DuckDuckGoBackend queries the DuckDuckGo Instant Answer API
type DuckDuckGoBackend struct {
	baseURL string
	region  string
	client  *http.Client
}

// NewDuckDuckGoBackend creates a backend; empty baseURL selects the public API
func NewDuckDuckGoBackend(baseURL, region string) *DuckDuckGoBackend {
	if baseURL == "" {
		baseURL = "https://api.duckduckgo.com/"
	}
	return &DuckDuckGoBackend{
		baseURL: baseURL,
		region:  region,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (b *DuckDuckGoBackend) Name() string {
	return "duckduckgo"
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search returns up to maxResults snippets ranked in response order
func (b *DuckDuckGoBackend) Search(ctx context.Context, query string, maxResults int) ([]model.Snippet, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	if b.region != "" {
		params.Set("kl", b.region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSearchUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrSearchUnavailable, resp.StatusCode)
	}

	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchUnavailable, err)
	}

	snippets := make([]model.Snippet, 0, maxResults)
	add := func(title, link, text string) {
		if len(snippets) >= maxResults || strings.TrimSpace(text) == "" {
			return
		}
		snippets = append(snippets, model.Snippet{
			Title:   title,
			URL:     link,
			Excerpt: trimRunes(text, excerptLimit),
			Rank:    len(snippets) + 1,
		})
	}

	if parsed.AbstractText != "" {
		add(parsed.Heading, parsed.AbstractURL, parsed.AbstractText)
	}
	var walk func(topics []ddgTopic)
	walk = func(topics []ddgTopic) {
		for _, t := range topics {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			add(topicTitle(t.Text), t.FirstURL, t.Text)
		}
	}
	walk(parsed.RelatedTopics)

	if len(snippets) == 0 {
		return nil, errNoResults
	}
	return snippets, nil
}

func topicTitle(text string) string {
	if i := strings.Index(text, " - "); i > 0 {
		return text[:i]
	}
	return trimRunes(text, 60)
}

// trimRunes cuts s to at most limit runes, marking the cut with "..."
func trimRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// isNoResults reports whether a search error only means "nothing found"
func isNoResults(err error) bool {
	return errors.Is(err, errNoResults)
}
