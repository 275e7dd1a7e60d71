package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

type payload struct {
	Move  string `json:"move"`
	Score int    `json:"score"`
}

func newTestCache(t *testing.T) (*CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	c, err := NewCacheService(CacheConfig{Host: mr.Host(), Port: port, Prefix: "test:"}, nil)
	if err != nil {
		t.Fatalf("NewCacheService: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSetGetDel(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	var got payload
	ok, err := c.Get(ctx, "k", &got)
	if err != nil || ok {
		t.Fatalf("Get on empty cache: ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, "k", payload{Move: "e2e4", Score: -3}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatalf("expected prefixed key in redis")
	}
	ok, err = c.Get(ctx, "k", &got)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Move != "e2e4" || got.Score != -3 {
		t.Fatalf("unexpected payload %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := c.Get(ctx, "k", &got); ok {
		t.Fatalf("expected key to expire")
	}

	_ = c.Set(ctx, "a", 1, 0)
	if err := c.Del(ctx, "a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("test:a") {
		t.Fatalf("expected key deleted")
	}
}

func TestGetCorruptValue(t *testing.T) {
	c, mr := newTestCache(t)
	if err := mr.Set("test:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var got payload
	if _, err := c.Get(context.Background(), "bad", &got); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewCacheServiceUnreachable(t *testing.T) {
	if _, err := NewCacheService(CacheConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond}, nil); err == nil {
		t.Fatalf("expected ping error")
	}
}
