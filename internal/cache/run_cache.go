package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/niikun/social-listening/internal/model"
)

// RunCache keeps run progress snapshots and computed analytics in Redis so
// other instances and dashboards can read them without the full dataset
type RunCache interface {
	SetSummary(ctx context.Context, summary *model.RunSummary) error
	GetSummary(ctx context.Context, runID string) (*model.RunSummary, error)
	SetAnalytics(ctx context.Context, analytics *model.RunAnalytics) error
	GetAnalytics(ctx context.Context, runID string) (*model.RunAnalytics, error)
	Delete(ctx context.Context, runID string) error
}

type runCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunCache creates a new run cache
func NewRunCache(client *redis.Client) RunCache {
	return &runCache{
		client: client,
		ttl:    24 * time.Hour, // Runs expire after 24h
	}
}

func (c *runCache) summaryKey(runID string) string {
	return fmt.Sprintf("run:%s:summary", runID)
}

func (c *runCache) analyticsKey(runID string) string {
	return fmt.Sprintf("run:%s:analytics", runID)
}

func (c *runCache) SetSummary(ctx context.Context, summary *model.RunSummary) error {
	return c.setJSON(ctx, c.summaryKey(summary.ID), summary)
}

func (c *runCache) GetSummary(ctx context.Context, runID string) (*model.RunSummary, error) {
	var summary model.RunSummary
	found, err := c.getJSON(ctx, c.summaryKey(runID), &summary)
	if err != nil || !found {
		return nil, err
	}
	return &summary, nil
}

func (c *runCache) SetAnalytics(ctx context.Context, analytics *model.RunAnalytics) error {
	return c.setJSON(ctx, c.analyticsKey(analytics.RunID), analytics)
}

func (c *runCache) GetAnalytics(ctx context.Context, runID string) (*model.RunAnalytics, error) {
	var analytics model.RunAnalytics
	found, err := c.getJSON(ctx, c.analyticsKey(runID), &analytics)
	if err != nil || !found {
		return nil, err
	}
	return &analytics, nil
}

func (c *runCache) Delete(ctx context.Context, runID string) error {
	return c.client.Del(ctx, c.summaryKey(runID), c.analyticsKey(runID)).Err()
}

func (c *runCache) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *runCache) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, err
	}
	return true, nil
}
