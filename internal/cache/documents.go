// Package cache keeps short-lived copies of on-chain document projections in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"blocksign/api/internal/sui"
)

const defaultDocumentTTL = 15 * time.Second

// Documents is a read-through cache in front of a sui.DocumentSource.
// Cache failures are logged and the source is read directly.
type Documents struct {
	source sui.DocumentSource
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewDocuments(source sui.DocumentSource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Documents {
	if ttl <= 0 {
		ttl = defaultDocumentTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Documents{source: source, client: client, prefix: "doc:", ttl: ttl, logger: logger}
}

func (d *Documents) key(documentID string) string {
	return d.prefix + sui.NormalizeAddress(documentID)
}

// GetDocument returns the cached projection of documentID, reading and storing it on a miss.
func (d *Documents) GetDocument(ctx context.Context, documentID string) (sui.Document, error) {
	key := d.key(documentID)
	raw, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var doc sui.Document
		if jsonErr := json.Unmarshal(raw, &doc); jsonErr == nil {
			return doc, nil
		}
		d.logger.Warn("dropping undecodable cached document", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		d.logger.Warn("document cache read failed", zap.String("key", key), zap.Error(err))
	}

	doc, err := d.source.GetDocument(ctx, documentID)
	if err != nil {
		return sui.Document{}, err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return sui.Document{}, fmt.Errorf("marshal document: %w", err)
	}
	if err := d.client.Set(ctx, key, encoded, d.ttl).Err(); err != nil {
		d.logger.Warn("document cache write failed", zap.String("key", key), zap.Error(err))
	}
	return doc, nil
}

// Invalidate drops the cached projection, typically after a transaction touched it.
func (d *Documents) Invalidate(ctx context.Context, documentID string) error {
	if err := d.client.Del(ctx, d.key(documentID)).Err(); err != nil {
		return fmt.Errorf("invalidate document: %w", err)
	}
	return nil
}
