package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestIncrWithTTLSetsExpiryOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	count, err := client.IncrWithTTL(ctx, "fl:counter", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	count, err = client.IncrWithTTL(ctx, "fl:counter", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("unexpected second counter %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	stamp := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	if err := client.SetTime(ctx, "fl:notify:stack-throttle:abc", stamp, 15*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := client.GetTime(ctx, "fl:notify:stack-throttle:abc")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Equal(stamp) {
		t.Fatalf("expected %v got %v", stamp, got)
	}
}

func TestGetTimeMissReturnsZero(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	got, err := client.GetTime(ctx, "fl:notify:stack-throttle:missing")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero time on miss, got %v", got)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.SignatureCacheKey("proj", "hash", "v2"); got != "fl:stack-sig:proj:hash:v2" {
		t.Fatalf("unexpected signature key %s", got)
	}
	if got := client.StackThrottleKey("stack-1"); got != "fl:notify:stack-throttle:stack-1" {
		t.Fatalf("unexpected stack throttle key %s", got)
	}
	now := time.Date(2024, 5, 1, 12, 43, 10, 0, time.UTC)
	window := 30 * time.Minute
	bucket := now.Truncate(window).Unix()
	want := fmt.Sprintf("fl:notify:project-throttle:proj-%d", bucket)
	if got := client.ProjectThrottleKey("proj", now, window); got != want {
		t.Fatalf("unexpected project throttle key %s want %s", got, want)
	}
	if got := client.LockKey("maintenance"); got != "fl:lock:maintenance" {
		t.Fatalf("unexpected lock key %s", got)
	}
}

func TestProjectThrottleKeyStableWithinBucket(t *testing.T) {
	client := &Client{}
	window := 30 * time.Minute
	first := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	second := time.Date(2024, 5, 1, 12, 29, 59, 0, time.UTC)
	third := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	if client.ProjectThrottleKey("p", first, window) != client.ProjectThrottleKey("p", second, window) {
		t.Fatal("keys within one bucket must match")
	}
	if client.ProjectThrottleKey("p", first, window) == client.ProjectThrottleKey("p", third, window) {
		t.Fatal("keys across buckets must differ")
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
