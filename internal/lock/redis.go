package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/redis/go-redis/v9"
)

// acquireScript sets the lease when absent, refreshes it when the caller
// already holds it and refuses otherwise. Redis runs scripts atomically, so
// two racing Acquire calls cannot both win.
var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return 1
end
local cur = cjson.decode(v)
if cur.holder_id == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local cur = cjson.decode(v)
if cur.holder_id == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// lingerScript only ever shortens a lease.
var lingerScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local cur = cjson.decode(v)
if cur.holder_id ~= ARGV[1] then return 0 end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 or ttl > tonumber(ARGV[2]) then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

type redisLease struct {
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// RedisManager stores leases in Redis so every API replica sees the same
// lock table. Expiry is delegated to Redis key TTLs.
type RedisManager struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedisManager creates a RedisManager. prefix namespaces the keys.
func NewRedisManager(client redis.UniversalClient, prefix string, clk clock.Clock) *RedisManager {
	if prefix == "" {
		prefix = "kds"
	}
	return &RedisManager{client: client, prefix: prefix, clock: clk}
}

func (m *RedisManager) key(orderID uuid.UUID) string {
	return fmt.Sprintf("%s:lock:%s", m.prefix, orderID)
}

func (m *RedisManager) Acquire(ctx context.Context, orderID uuid.UUID, h Holder, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	value, err := json.Marshal(redisLease{HolderID: h.ID, HolderName: h.Name, AcquiredAt: m.clock.Now()})
	if err != nil {
		return false, fmt.Errorf("marshal lease: %w", err)
	}
	n, err := acquireScript.Run(ctx, m.client, []string{m.key(orderID)}, h.ID, string(value), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n == 1, nil
}

func (m *RedisManager) Release(ctx context.Context, orderID uuid.UUID, holderID string) error {
	if err := releaseScript.Run(ctx, m.client, []string{m.key(orderID)}, holderID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (m *RedisManager) ReleaseAfter(ctx context.Context, orderID uuid.UUID, holderID string, d time.Duration) error {
	if d <= 0 {
		return m.Release(ctx, orderID, holderID)
	}
	if err := lingerScript.Run(ctx, m.client, []string{m.key(orderID)}, holderID, d.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("linger lease: %w", err)
	}
	return nil
}

func (m *RedisManager) IsLocked(ctx context.Context, orderID uuid.UUID) (Lock, bool, error) {
	key := m.key(orderID)
	pipe := m.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Lock{}, false, fmt.Errorf("read lease: %w", err)
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Lock{}, false, nil
	}
	if err != nil {
		return Lock{}, false, fmt.Errorf("read lease: %w", err)
	}
	var lease redisLease
	if err := json.Unmarshal([]byte(raw), &lease); err != nil {
		return Lock{}, false, fmt.Errorf("decode lease: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Lock{}, false, nil
	}
	return Lock{
		OrderID:    orderID,
		HolderID:   lease.HolderID,
		HolderName: lease.HolderName,
		AcquiredAt: lease.AcquiredAt,
		ExpiresAt:  m.clock.Now().Add(ttl),
	}, true, nil
}
