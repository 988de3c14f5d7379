package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/niikun/social-listening/internal/model"
)

// SearchCache handles Redis operations for live search results
type SearchCache interface {
	GetSnippets(ctx context.Context, query string, maxResults int) ([]model.Snippet, error)
	SetSnippets(ctx context.Context, query string, maxResults int, snippets []model.Snippet) error
}

type searchCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSearchCache creates a new search cache
func NewSearchCache(client *redis.Client, ttl time.Duration) SearchCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &searchCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *searchCache) key(query string, maxResults int) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("search:%s:%d", hex.EncodeToString(sum[:]), maxResults)
}

func (c *searchCache) GetSnippets(ctx context.Context, query string, maxResults int) ([]model.Snippet, error) {
	data, err := c.client.Get(ctx, c.key(query, maxResults)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snippets []model.Snippet
	if err := json.Unmarshal([]byte(data), &snippets); err != nil {
		return nil, err
	}
	return snippets, nil
}

func (c *searchCache) SetSnippets(ctx context.Context, query string, maxResults int, snippets []model.Snippet) error {
	data, err := json.Marshal(snippets)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(query, maxResults), data, c.ttl).Err()
}
