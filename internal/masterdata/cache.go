package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedChecker memoises positive existence answers in redis. Master rows are
// never deleted, so a positive answer stays true; negatives are always
// re-checked so a row created a moment ago is seen.
type CachedChecker struct {
	next   Checker
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ Checker = (*CachedChecker)(nil)

// NewCachedChecker wraps next. A nil client disables caching.
func NewCachedChecker(next Checker, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedChecker{next: next, client: client, ttl: ttl, logger: logger}
}

func cacheKey(kind Kind, id int64) string {
	return fmt.Sprintf("md:exists:%s:%d", kind, id)
}

func (c *CachedChecker) check(ctx context.Context, kind Kind, id int64, load func(context.Context, int64) (bool, error)) (bool, error) {
	if c.client == nil {
		return load(ctx, id)
	}
	key := cacheKey(kind, id)
	if n, err := c.client.Exists(ctx, key).Result(); err == nil && n > 0 {
		return true, nil
	} else if err != nil {
		c.logger.Warn("masterdata cache read", slog.String("key", key), slog.Any("error", err))
	}
	ok, err := load(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if err := c.client.Set(ctx, key, 1, c.ttl).Err(); err != nil {
		c.logger.Warn("masterdata cache write", slog.String("key", key), slog.Any("error", err))
	}
	return true, nil
}

// ItemExists implements Checker.
func (c *CachedChecker) ItemExists(ctx context.Context, id int64) (bool, error) {
	return c.check(ctx, KindItem, id, c.next.ItemExists)
}

// WarehouseExists implements Checker.
func (c *CachedChecker) WarehouseExists(ctx context.Context, id int64) (bool, error) {
	return c.check(ctx, KindWarehouse, id, c.next.WarehouseExists)
}

// VendorExists implements Checker.
func (c *CachedChecker) VendorExists(ctx context.Context, id int64) (bool, error) {
	return c.check(ctx, KindVendor, id, c.next.VendorExists)
}

// CustomerExists implements Checker.
func (c *CachedChecker) CustomerExists(ctx context.Context, id int64) (bool, error) {
	return c.check(ctx, KindCustomer, id, c.next.CustomerExists)
}
