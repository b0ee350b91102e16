package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/schedule"
)

// TemplateCache is a read-through cache in front of a schedule.Source. Redis is never
// authoritative: read or write failures fall back to the source.
type TemplateCache struct {
	client *redis.Client
	source schedule.Source
	ttl    time.Duration
	logger *zap.Logger
}

func NewTemplateCache(client *redis.Client, source schedule.Source, ttl time.Duration, logger *zap.Logger) *TemplateCache {
	return &TemplateCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

func templateKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("template:service:%s", serviceID.String())
}

func (c *TemplateCache) GetTemplate(ctx context.Context, serviceID uuid.UUID) (*schedule.Template, error) {
	key := templateKey(serviceID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t schedule.Template
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		c.logger.Warn("dropping undecodable cached template", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("template cache read failed", zap.String("key", key), zap.Error(err))
	}

	t, err := c.source.GetTemplate(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("template cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return t, nil
}

// Invalidate drops the cached template so the next read goes to the source.
func (c *TemplateCache) Invalidate(ctx context.Context, serviceID uuid.UUID) error {
	if err := c.client.Del(ctx, templateKey(serviceID)).Err(); err != nil {
		return fmt.Errorf("invalidate template: %w", err)
	}
	return nil
}
