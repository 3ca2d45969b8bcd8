package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"repair-shop-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/set_stock.lua
var setStockScript string

// ErrStockNotCached is returned when a part has no mirrored stock entry
var ErrStockNotCached = errors.New("stock not cached")

type Client struct {
	rdb            *redis.Client
	setStockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		setStockScript: redis.NewScript(setStockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(partID string) string {
	return fmt.Sprintf("stock:%s", partID)
}

// SetStock mirrors a part's stock level if its version is newer than the
// cached one. It reports whether the entry was written.
func (c *Client) SetStock(ctx context.Context, level models.StockLevel) (bool, error) {
	result, err := c.setStockScript.Run(ctx, c.rdb, []string{stockKey(level.PartID)},
		level.Quantity, level.MinimumQuantity, level.Version).Result()
	if err != nil {
		return false, fmt.Errorf("set stock script failed: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return written == 1, nil
}

// GetStock retrieves the mirrored stock level of a part
func (c *Client) GetStock(ctx context.Context, partID string) (*models.StockLevel, error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(partID)).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, ErrStockNotCached
	}

	level := &models.StockLevel{PartID: partID}
	if level.Quantity, err = strconv.Atoi(result["quantity"]); err != nil {
		return nil, fmt.Errorf("malformed cached quantity for part %s: %w", partID, err)
	}
	if level.MinimumQuantity, err = strconv.Atoi(result["minimum_quantity"]); err != nil {
		return nil, fmt.Errorf("malformed cached minimum for part %s: %w", partID, err)
	}
	if level.Version, err = strconv.ParseInt(result["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("malformed cached version for part %s: %w", partID, err)
	}

	return level, nil
}

// DeleteStock drops the mirrored entry of a part
func (c *Client) DeleteStock(ctx context.Context, partID string) error {
	return c.rdb.Del(ctx, stockKey(partID)).Err()
}

// SetIdempotencyKey stores the result id of a request under its idempotency key
func (c *Client) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the result id stored for key, if any
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
