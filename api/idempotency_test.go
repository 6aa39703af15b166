package api

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewRedisDeduper(client, time.Minute), m
}

func TestRedisDeduperAddRemove(t *testing.T) {
	deduper, _ := newTestDeduper(t)
	ctx := context.Background()

	added, err := deduper.Add(ctx, "ana", "k1")
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got %v %v", added, err)
	}
	added, err = deduper.Add(ctx, "ana", "k1")
	if err != nil || added {
		t.Fatalf("expected duplicate, got %v %v", added, err)
	}

	if err := deduper.Remove(ctx, "ana", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = deduper.Add(ctx, "ana", "k1")
	if err != nil || !added {
		t.Fatalf("expected add after remove to succeed, got %v %v", added, err)
	}
}

func TestRedisDeduperKeyNamespacing(t *testing.T) {
	deduper, m := newTestDeduper(t)
	ctx := context.Background()

	if _, err := deduper.Add(ctx, "ana", "k1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	added, err := deduper.Add(ctx, "bob", "k1")
	if err != nil || !added {
		t.Fatalf("keys must be scoped per user, got %v %v", added, err)
	}
	if !m.Exists("idempotency:ana:k1") || !m.Exists("idempotency:bob:k1") {
		t.Fatalf("unexpected keys: %v", m.Keys())
	}
	if ttl := m.TTL("idempotency:ana:k1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}

	m.FastForward(2 * time.Minute)
	added, err = deduper.Add(ctx, "ana", "k1")
	if err != nil || !added {
		t.Fatalf("expected expired key to be re-added, got %v %v", added, err)
	}
}
