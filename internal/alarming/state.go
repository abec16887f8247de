package alarming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

const (
	StatusUnseen   = "UNSEEN"
	StatusNotified = "NOTIFIED"
)

// AlertState is the per-location record of the last notification.
type AlertState struct {
	Status     string    `json:"status"` // UNSEEN, NOTIFIED
	Band       aqi.Band  `json:"band"`
	AQI        int       `json:"aqi"`
	NotifiedAt time.Time `json:"notified_at"`
}

// Notified reports whether a notification is on record.
func (s *AlertState) Notified() bool {
	return s != nil && s.Status == StatusNotified
}

func unseen() *AlertState {
	return &AlertState{Status: StatusUnseen}
}

// Store keeps AlertState keyed by location. Get never returns nil state:
// a location with no record is Unseen.
type Store interface {
	Get(ctx context.Context, location string) (*AlertState, error)
	Set(ctx context.Context, location string, state *AlertState) error
	Delete(ctx context.Context, location string) error
	// Prune drops the state of every location not in keep and returns how
	// many were dropped.
	Prune(ctx context.Context, keep map[string]struct{}) (int, error)
	Len(ctx context.Context) (int, error)
}

// MemoryStore holds alert state for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]AlertState
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]AlertState)}
}

func (m *MemoryStore) Get(_ context.Context, location string) (*AlertState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[location]
	if !ok {
		return unseen(), nil
	}
	return &state, nil
}

func (m *MemoryStore) Set(_ context.Context, location string, state *AlertState) error {
	if state == nil {
		return errors.New("alert state is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[location] = *state
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, location)
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, keep map[string]struct{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for location := range m.states {
		if _, ok := keep[location]; !ok {
			delete(m.states, location)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states), nil
}

const redisKeyPrefix = "aqi_alert_state:"

// RedisStore keeps alert state in Redis so several engine instances serving
// one session share it. Keys expire after ttl.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func redisKey(location string) string {
	return redisKeyPrefix + location
}

func (rs *RedisStore) Get(ctx context.Context, location string) (*AlertState, error) {
	data, err := rs.redis.Get(ctx, redisKey(location)).Result()
	if errors.Is(err, redis.Nil) {
		return unseen(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

func (rs *RedisStore) Set(ctx context.Context, location string, state *AlertState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := rs.redis.Set(ctx, redisKey(location), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

func (rs *RedisStore) Delete(ctx context.Context, location string) error {
	return rs.redis.Del(ctx, redisKey(location)).Err()
}

func (rs *RedisStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := rs.redis.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan alert states: %w", err)
	}
	return keys, nil
}

func (rs *RedisStore) Prune(ctx context.Context, keep map[string]struct{}) (int, error) {
	keys, err := rs.keys(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, key := range keys {
		if _, ok := keep[strings.TrimPrefix(key, redisKeyPrefix)]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := rs.redis.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune alert states: %w", err)
	}
	return int(removed), nil
}

func (rs *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := rs.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
