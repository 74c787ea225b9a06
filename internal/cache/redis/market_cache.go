package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// DefaultMarketTTL bounds how long a market stays cached after its last
// refresh.
const DefaultMarketTTL = 10 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with
// JSON-serialized markets and a token-to-market index.
//
// Key schema:
//
//	market:{id}            - hash with field "data" containing JSON
//	market:token:{tokenID} - string value of the market id
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A
// non-positive ttl selects DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(id int64) string {
	return mc.c.Key("market:" + strconv.FormatInt(id, 10))
}

func (mc *MarketCache) tokenKey(tok string) string {
	return mc.c.Key("market:token:" + tok)
}

// Set stores a market and indexes both of its token ids.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}

	key := mc.marketKey(market.ID)
	pipe := mc.c.Underlying().TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	for _, tokenID := range market.TokenIDs() {
		pipe.Set(ctx, mc.tokenKey(tokenID), market.ID, mc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when the market is not cached.
func (mc *MarketCache) Get(ctx context.Context, id int64) (domain.Market, error) {
	data, err := mc.c.Underlying().HGet(ctx, mc.marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return market, nil
}

// GetByToken looks a market up by a canonical token id.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	id, err := mc.c.Underlying().Get(ctx, mc.tokenKey(tokenID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}
	return mc.Get(ctx, id)
}

// Invalidate removes a market and its token index entries.
func (mc *MarketCache) Invalidate(ctx context.Context, id int64) error {
	market, err := mc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}

	pipe := mc.c.Underlying().TxPipeline()
	pipe.Del(ctx, mc.marketKey(id))
	if err == nil {
		for _, tokenID := range market.TokenIDs() {
			pipe.Del(ctx, mc.tokenKey(tokenID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
