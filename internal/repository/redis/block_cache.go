package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"attendance-service/internal/client"
	"attendance-service/internal/model"
	"attendance-service/internal/util"
)

const blockPrefix = "user_block:"

// BlockCache fronts the block store on the request path. Entries expire with
// the block itself, so a cache hit is always a block still in effect.
type BlockCache struct {
	client *client.RedisClient
}

func NewBlockCache(client *client.RedisClient) *BlockCache {
	return &BlockCache{client: client}
}

func (c *BlockCache) SetBlock(ctx context.Context, record *model.BlockRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize block record: %w", err)
	}

	key := blockPrefix + record.UserID
	if err := c.client.Set(ctx, key, data, ttl); err != nil {
		util.Error("Failed to cache block record",
			zap.String("user_id", record.UserID),
			zap.String("block_id", record.BlockID),
			zap.Error(err))
		return fmt.Errorf("failed to cache block record: %w", err)
	}

	util.Debug("Block record cached",
		zap.String("user_id", record.UserID),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *BlockCache) GetBlock(ctx context.Context, userID string) (*model.BlockRecord, error) {
	data, found, err := c.client.GetResult(ctx, blockPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached block: %w", err)
	}
	if !found {
		return nil, nil
	}

	record := &model.BlockRecord{}
	if err := json.Unmarshal([]byte(data), record); err != nil {
		util.Warn("Cached block record is corrupt, dropping it",
			zap.String("user_id", userID),
			zap.Error(err))
		_ = c.client.Del(ctx, blockPrefix+userID)
		return nil, nil
	}

	return record, nil
}

func (c *BlockCache) ClearBlock(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, blockPrefix+userID); err != nil {
		return fmt.Errorf("failed to clear cached block: %w", err)
	}
	return nil
}
