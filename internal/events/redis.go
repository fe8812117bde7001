package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from a redis:// URL or a host:port.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// PriceView is the read-model entry for one auction's price.
type PriceView struct {
	AuctionID string `json:"auction_id"`
	Price     int64  `json:"price"`
	LeaderID  string `json:"leader_id,omitempty"`
	Version   int64  `json:"version"`
	Closed    bool   `json:"closed"`
}

func priceKey(auctionID string) string {
	return "auction:" + auctionID + ":price"
}

// Writes only land if they carry a newer version than the stored entry, so
// events delivered out of order never move the projection backwards.
var projectPrice = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if tonumber(ARGV[1]) <= current then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'price', ARGV[2], 'leader_id', ARGV[3], 'closed', ARGV[4])
return 1
`)

// RedisProjector keeps a per-auction price hash current from leader_changed
// and auction_closed events. The public price endpoint reads it first.
type RedisProjector struct {
	client *redis.Client
}

func NewRedisProjector(client *redis.Client) *RedisProjector {
	return &RedisProjector{client: client}
}

func (p *RedisProjector) Publish(ctx context.Context, e Event) error {
	if e.Type != LeaderChanged && e.Type != AuctionClosed {
		return nil
	}
	closed := "0"
	if e.Type == AuctionClosed {
		closed = "1"
	}
	err := projectPrice.Run(ctx, p.client, []string{priceKey(e.AuctionID)},
		e.Version, e.Price, e.BidderID, closed).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("project price %s: %w", e.AuctionID, err)
	}
	return nil
}

// Price returns the projected price, or ok=false when nothing is cached yet.
func (p *RedisProjector) Price(ctx context.Context, auctionID string) (PriceView, bool, error) {
	fields, err := p.client.HGetAll(ctx, priceKey(auctionID)).Result()
	if err != nil {
		return PriceView{}, false, err
	}
	return decodePriceView(auctionID, fields)
}

func decodePriceView(auctionID string, fields map[string]string) (PriceView, bool, error) {
	if len(fields) == 0 {
		return PriceView{}, false, nil
	}
	view := PriceView{AuctionID: auctionID, LeaderID: fields["leader_id"], Closed: fields["closed"] == "1"}
	var err error
	if view.Price, err = strconv.ParseInt(fields["price"], 10, 64); err != nil {
		return PriceView{}, false, fmt.Errorf("decode price: %w", err)
	}
	if view.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return PriceView{}, false, fmt.Errorf("decode version: %w", err)
	}
	return view, true, nil
}
