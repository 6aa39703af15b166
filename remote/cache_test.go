package remote

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubDirectory struct {
	calls int
	names []string
	err   error
}

func (s *stubDirectory) ListUsernames(context.Context) ([]string, error) {
	s.calls++
	return s.names, s.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestUsernameCacheMissThenHit(t *testing.T) {
	mr, client := newRedis(t)
	base := &stubDirectory{names: []string{"ana", "bob"}}
	cache := NewUsernameCache(base, client, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		names, err := cache.ListUsernames(ctx)
		if err != nil {
			t.Fatalf("list usernames: %v", err)
		}
		if !reflect.DeepEqual(names, base.names) {
			t.Fatalf("unexpected usernames: %v", names)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected 1 call to directory, got %d", base.calls)
	}
	if ttl := mr.TTL(usernamesCacheKey); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cache.Evict(ctx)
	if _, err := cache.ListUsernames(ctx); err != nil || base.calls != 2 {
		t.Fatalf("expected reload after evict, calls=%d err=%v", base.calls, err)
	}
}

func TestUsernameCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newRedis(t)
	if err := mr.Set(usernamesCacheKey, "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	base := &stubDirectory{names: []string{"ana"}}
	cache := NewUsernameCache(base, client, time.Minute)

	names, err := cache.ListUsernames(context.Background())
	if err != nil || len(names) != 1 || base.calls != 1 {
		t.Fatalf("unexpected result: %v %v calls=%d", names, err, base.calls)
	}
}

func TestUsernameCacheErrorNotCached(t *testing.T) {
	mr, client := newRedis(t)
	base := &stubDirectory{err: errors.New("down")}
	cache := NewUsernameCache(base, client, time.Minute)

	if _, err := cache.ListUsernames(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if mr.Exists(usernamesCacheKey) {
		t.Fatal("error result cached")
	}
}

func TestUsernameCacheWithoutRedis(t *testing.T) {
	base := &stubDirectory{names: []string{"ana"}}
	cache := NewUsernameCache(base, nil, time.Minute)
	ctx := context.Background()

	_, _ = cache.ListUsernames(ctx)
	_, _ = cache.ListUsernames(ctx)
	if base.calls != 2 {
		t.Fatalf("expected pass-through without redis, got %d calls", base.calls)
	}
}
