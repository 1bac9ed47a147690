package frequency

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"popup-runtime/pkg/redis"
)

// ErrUnavailable is returned by scopes whose backing storage cannot be used
// (for example persistence disabled by the visitor's privacy settings).
var ErrUnavailable = errors.New("frequency: storage unavailable")

// Scope is one persistence scope, durable or session-bound, holding a flat string
// hash per key. Scopes are shared by every page of the same visitor without any
// coordination, so a read followed by a write is not atomic across pages.
type Scope interface {
	Load(ctx context.Context, key string) (map[string]string, error)
	Save(ctx context.Context, key string, fields map[string]string) error
	Incr(ctx context.Context, key, field string, by int64) (int64, error)
}

// RedisScope stores each key as a Redis hash namespaced by an owner id
// (visitor id for the durable scope, session id for the session scope).
type RedisScope struct {
	client *redis.Client
	keyFn  func(key string) string
	ttl    time.Duration
}

// NewDurableScope persists records for a visitor without expiry
func NewDurableScope(client *redis.Client, visitorID string) *RedisScope {
	return &RedisScope{
		client: client,
		keyFn: func(key string) string {
			return client.KeyBuilder.KeyFrequencyDurable(visitorID, key)
		},
	}
}

// NewSessionScope persists records for a session; the TTL is refreshed on every write
// so the scope disappears once the session has been idle for ttl.
func NewSessionScope(client *redis.Client, sessionID string, ttl time.Duration) *RedisScope {
	if ttl <= 0 {
		ttl = redis.TTLSessionScope
	}
	return &RedisScope{
		client: client,
		keyFn: func(key string) string {
			return client.KeyBuilder.KeyFrequencySession(sessionID, key)
		},
		ttl: ttl,
	}
}

func (s *RedisScope) Load(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.keyFn(key))
}

func (s *RedisScope) Save(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return s.client.HSetWithTTL(ctx, s.keyFn(key), values, s.ttl)
}

func (s *RedisScope) Incr(ctx context.Context, key, field string, by int64) (int64, error) {
	full := s.keyFn(key)
	v, err := s.client.HIncrBy(ctx, full, field, by)
	if err != nil {
		return 0, err
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, full, s.ttl); err != nil {
			return v, err
		}
	}
	return v, nil
}

// MemoryScope is an in-process Scope. Sharing one MemoryScope between runtimes models
// several tabs of the same origin.
type MemoryScope struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewMemoryScope creates an empty in-memory scope
func NewMemoryScope() *MemoryScope {
	return &MemoryScope{data: make(map[string]map[string]string)}
}

func (m *MemoryScope) Load(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.data[key]))
	for k, v := range m.data[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryScope) Save(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok {
		rec = make(map[string]string, len(fields))
		m.data[key] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (m *MemoryScope) Incr(_ context.Context, key, field string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok {
		rec = make(map[string]string)
		m.data[key] = rec
	}
	n, _ := strconv.ParseInt(rec[field], 10, 64)
	n += by
	rec[field] = strconv.FormatInt(n, 10)
	return n, nil
}

// Clear drops everything, like a browser ending the session
func (m *MemoryScope) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string]string)
}

// UnavailableScope fails every operation. Used when no storage could be opened.
type UnavailableScope struct{}

func (UnavailableScope) Load(context.Context, string) (map[string]string, error) {
	return nil, ErrUnavailable
}

func (UnavailableScope) Save(context.Context, string, map[string]string) error {
	return ErrUnavailable
}

func (UnavailableScope) Incr(context.Context, string, string, int64) (int64, error) {
	return 0, ErrUnavailable
}
