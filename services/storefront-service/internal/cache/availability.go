package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Availability keeps per-event seat counts in Redis so the storefront can
// answer "how many left" without touching postgres. It is a projection like
// any other: seeded by EventCreated, decremented by TICKET_BOUGHT, removed
// by EventDeleted.
type Availability struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Availability {
	return &Availability{rdb: rdb}
}

func availabilityKey(eventID string) string {
	return "availability:" + eventID
}

func soldKey(orderID string) string {
	return "availability:sold:" + orderID
}

// Seed sets the initial seat count. SETNX keeps redelivered EventCreated
// envelopes from resetting a count that purchases already lowered.
func (a *Availability) Seed(ctx context.Context, eventID string, capacity int) error {
	return a.rdb.SetNX(ctx, availabilityKey(eventID), capacity, 0).Err()
}

// decrementScript applies one sale atomically and exactly once per order:
// the sold marker and the decrement happen in a single script, so a
// redelivered TICKET_BOUGHT cannot decrement twice. Returns -1 when the
// event has no availability entry yet.
var decrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("SETNX", KEYS[2], 1) == 0 then
	return tonumber(redis.call("GET", KEYS[1]))
end
local v = tonumber(redis.call("GET", KEYS[1]))
if v > 0 then
	v = redis.call("DECR", KEYS[1])
end
return v
`)

// Decrement records the sale of orderID against eventID and returns the
// remaining count, or -1 when the event is not seeded yet.
func (a *Availability) Decrement(ctx context.Context, eventID, orderID string) (int64, error) {
	res, err := decrementScript.Run(ctx, a.rdb,
		[]string{availabilityKey(eventID), soldKey(orderID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("availability decrement: %w", err)
	}
	return res, nil
}

func (a *Availability) Remove(ctx context.Context, eventID string) error {
	return a.rdb.Del(ctx, availabilityKey(eventID)).Err()
}

func (a *Availability) Remaining(ctx context.Context, eventID string) (int64, error) {
	n, err := a.rdb.Get(ctx, availabilityKey(eventID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
