package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/medaudit/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = cache.Set(ctx, "key1", []byte("value1b"), time.Minute)
		val, _ := cache.Get(ctx, "key1")
		if string(val) != "value1b" {
			t.Errorf("expected overwritten value, got '%s'", string(val))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		now := time.Now()
		c := NewLRUCache(10)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "expiring", []byte("temp"), time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Fatal("expected value before expiry")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiry")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be removed, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the oldest
		_, _ = small.Get(ctx, "a")
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		for _, k := range []string{"a", "c", "d"} {
			if val, _ := small.Get(ctx, k); val == nil {
				t.Errorf("expected %q to survive eviction", k)
			}
		}

		size, capacity := small.Stats()
		if size != 3 || capacity != 3 {
			t.Errorf("expected 3/3, got %d/%d", size, capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		_ = cache.Close()
		if size, _ := cache.Stats(); size != 0 {
			t.Errorf("expected empty cache after close, got %d", size)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10)

	code := domain.BillingCode{Code: "99213", CodeType: domain.CodeCPT, Status: "active"}
	if err := SetJSON(ctx, c, "billing_code:99213", code, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	got, err := GetJSON[domain.BillingCode](ctx, c, "billing_code:99213")
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got == nil || got.Code != "99213" || !got.Active() {
		t.Errorf("unexpected decoded value %+v", got)
	}

	miss, err := GetJSON[domain.BillingCode](ctx, c, "billing_code:none")
	if err != nil || miss != nil {
		t.Errorf("expected nil miss, got %+v / %v", miss, err)
	}

	_ = c.Set(ctx, "broken", []byte("{"), time.Minute)
	if _, err := GetJSON[domain.BillingCode](ctx, c, "broken"); err == nil {
		t.Error("expected decode error")
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("medaudit:k"), "keys are namespaced")

	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	val, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, c.Set(ctx, "d", []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, "d"))
	assert.False(t, mr.Exists("medaudit:d"))

	assert.NoError(t, c.Ping(ctx))
}

func TestRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(addr, "", 0)
	assert.Error(t, err)
}

func TestTwoPhaseCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewTwoPhaseCache(domain.CacheConfig{
		Type:           "redis",
		RedisAddr:      mr.Addr(),
		LocalMaxSize:   10,
		LocalTTL:       time.Minute,
		EnableTwoPhase: true,
	})
	require.NoError(t, err)
	defer c.Close()

	t.Run("write through", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "shared", []byte("1"), time.Hour))
		assert.True(t, mr.Exists("medaudit:shared"))

		ttl := mr.TTL("medaudit:shared")
		assert.Equal(t, time.Hour, ttl, "L2 keeps the full TTL")
	})

	t.Run("L2 hit populates L1", func(t *testing.T) {
		require.NoError(t, mr.Set("medaudit:remote-only", "2"))

		val, err := c.Get(ctx, "remote-only")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), val)

		local, _ := c.local.Get(ctx, "remote-only")
		assert.Equal(t, []byte("2"), local)
	})

	t.Run("delete both layers", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "shared"))
		assert.False(t, mr.Exists("medaudit:shared"))
		local, _ := c.local.Get(ctx, "shared")
		assert.Nil(t, local)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})
}

func TestNewCache(t *testing.T) {
	tests := []struct {
		cfg     domain.CacheConfig
		wantErr bool
		want    string
	}{
		{domain.CacheConfig{Type: "memory", LocalMaxSize: 5}, false, "*cache.LRUCache"},
		{domain.CacheConfig{}, false, "*cache.LRUCache"},
		{domain.CacheConfig{Type: "memcached"}, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.cfg.Type, func(t *testing.T) {
			c, err := New(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error for unsupported cache type")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if got := fmt.Sprintf("%T", c); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
