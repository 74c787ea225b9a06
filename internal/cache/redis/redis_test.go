package redis

import (
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
)

func newOfflineClient(prefix string) *Client {
	// NewClient connects lazily, so no server is needed for key tests.
	return NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), prefix)
}

func TestKeyNamespacing(t *testing.T) {
	c := newOfflineClient("ctfidx:")
	defer c.Close()

	mc := NewMarketCache(c, 0)
	if got := mc.marketKey(42); got != "ctfidx:market:42" {
		t.Errorf("marketKey = %q", got)
	}
	if got := mc.tokenKey("0xab"); got != "ctfidx:market:token:0xab" {
		t.Errorf("tokenKey = %q", got)
	}
	if mc.ttl != DefaultMarketTTL {
		t.Errorf("ttl = %s, want default", mc.ttl)
	}

	lm := NewLockManager(c)
	if got := lm.lockKey("index:trades"); got != "ctfidx:lock:index:trades" {
		t.Errorf("lockKey = %q", got)
	}
}

func TestHasPattern(t *testing.T) {
	tests := map[string]bool{
		"trades:*":    true,
		"trades:1":    false,
		"index_runs":  false,
		"trades:[12]": true,
	}
	for ch, want := range tests {
		if got := hasPattern(ch); got != want {
			t.Errorf("hasPattern(%q) = %v, want %v", ch, got, want)
		}
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if !strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE") {
		t.Fatal("sliding window script not embedded")
	}
}
