package auth

import (
	"testing"
	"time"

	"github.com/Casys-AI/mcp-server/mcp"
)

func TestTokenCacheKeyNeverStoresRawToken(t *testing.T) {
	key := TokenCacheKey("super-secret-token")
	if key == "super-secret-token" {
		t.Fatalf("cache key must not equal the raw token")
	}
	if len(key) != 64 { // lowercase hex sha256
		t.Fatalf("cache key length = %d, want 64", len(key))
	}
}

func TestTokenCacheGetPutRoundTrip(t *testing.T) {
	c := newTokenCache(10)
	info := &mcp.AuthInfo{Subject: "user-1"}
	c.put("k1", info, time.Minute)

	got, ok := c.get("k1")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if got.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", got.Subject)
	}
}

func TestTokenCacheExpiry(t *testing.T) {
	c := newTokenCache(10)
	c.put("k1", &mcp.AuthInfo{Subject: "user-1"}, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := c.get("k1")
	if ok {
		t.Fatalf("expected cache miss after expiry")
	}
	if c.size() != 0 {
		t.Errorf("expired entry should be deleted on access, size = %d", c.size())
	}
}

func TestTokenCacheFIFOEviction(t *testing.T) {
	c := newTokenCache(2)
	c.put("k1", &mcp.AuthInfo{Subject: "u1"}, time.Minute)
	c.put("k2", &mcp.AuthInfo{Subject: "u2"}, time.Minute)
	c.put("k3", &mcp.AuthInfo{Subject: "u3"}, time.Minute)

	if _, ok := c.get("k1"); ok {
		t.Errorf("k1 should have been evicted (oldest insertion)")
	}
	if _, ok := c.get("k2"); !ok {
		t.Errorf("k2 should still be cached")
	}
	if _, ok := c.get("k3"); !ok {
		t.Errorf("k3 should still be cached")
	}
	if c.size() != 2 {
		t.Errorf("size = %d, want 2", c.size())
	}
}

func TestTokenCachePutWithNonPositiveTTLIsNoop(t *testing.T) {
	c := newTokenCache(10)
	c.put("k1", &mcp.AuthInfo{Subject: "u1"}, 0)
	if _, ok := c.get("k1"); ok {
		t.Fatalf("non-positive TTL must not insert")
	}
}

func TestCacheTTLCapsAtDefault(t *testing.T) {
	farFuture := time.Now().Add(time.Hour).Unix()
	if got := cacheTTL(farFuture); got != DefaultCacheTTL {
		t.Errorf("cacheTTL = %v, want %v (capped)", got, DefaultCacheTTL)
	}

	soon := time.Now().Add(5 * time.Second).Unix()
	got := cacheTTL(soon)
	if got <= 0 || got > 5*time.Second {
		t.Errorf("cacheTTL = %v, want roughly 5s", got)
	}

	past := time.Now().Add(-time.Minute).Unix()
	if got := cacheTTL(past); got > 0 {
		t.Errorf("cacheTTL for an expired token must be non-positive, got %v", got)
	}
}
