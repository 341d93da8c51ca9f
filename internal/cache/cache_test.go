package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
)

func testMemoryConfig() domain.CacheConfig {
	return domain.CacheConfig{Type: "memory", LocalMaxSize: 100, LocalTTL: time.Minute}
}

func TestLRUCache(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := c.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := c.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := c.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = c.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := c.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = c.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)
		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := small.Get(ctx, "a")
		if val != nil {
			t.Error("expected oldest entry to be evicted")
		}
		val, _ = small.Get(ctx, "d")
		if val == nil {
			t.Error("expected newest entry to survive")
		}
	})
}

func TestCounters(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("IncrementSequence", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, "velocity:session:m1:s1", time.Hour)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected count %d, got %d", want, got)
			}
		}
	})

	t.Run("WindowAnchoredAtFirstIncrement", func(t *testing.T) {
		// The TTL is set once on creation, not refreshed per increment, so
		// later increments must not extend the window.
		key := "velocity:anchor"
		if _, err := c.IncrementCounter(ctx, key, 30*time.Millisecond); err != nil {
			t.Fatal(err)
		}

		time.Sleep(20 * time.Millisecond)
		if n, _ := c.IncrementCounter(ctx, key, 30*time.Millisecond); n != 2 {
			t.Errorf("expected count 2 inside window, got %d", n)
		}

		time.Sleep(15 * time.Millisecond)
		// Window anchored at first increment has now elapsed.
		if n, _ := c.IncrementCounter(ctx, key, 30*time.Millisecond); n != 1 {
			t.Errorf("expected fresh counter after window, got %d", n)
		}
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.IncrementCounter(ctx, "velocity:concurrent", time.Hour)
			}()
		}
		wg.Wait()

		n, _ := c.IncrementCounter(ctx, "velocity:concurrent", time.Hour)
		if n != 51 {
			t.Errorf("expected 51 after 50 concurrent increments, got %d", n)
		}
	})
}

func TestSets(t *testing.T) {
	c := NewLRUCache(100)
	ctx := context.Background()

	t.Run("Membership", func(t *testing.T) {
		if err := c.AddToSet(ctx, "highrisk:countries", time.Hour, "NG", "RU"); err != nil {
			t.Fatalf("AddToSet failed: %v", err)
		}

		ok, err := c.IsSetMember(ctx, "highrisk:countries", "NG")
		if err != nil {
			t.Fatalf("IsSetMember failed: %v", err)
		}
		if !ok {
			t.Error("expected NG to be a member")
		}

		ok, _ = c.IsSetMember(ctx, "highrisk:countries", "US")
		if ok {
			t.Error("expected US not to be a member")
		}
	})

	t.Run("MissingSet", func(t *testing.T) {
		ok, err := c.IsSetMember(ctx, "nonexistent", "x")
		if err != nil {
			t.Fatalf("IsSetMember failed: %v", err)
		}
		if ok {
			t.Error("missing set must report false")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		_ = c.AddToSet(ctx, "shortlived", 10*time.Millisecond, "a")
		time.Sleep(20 * time.Millisecond)

		ok, _ := c.IsSetMember(ctx, "shortlived", "a")
		if ok {
			t.Error("expected expired set to report false")
		}
	})
}

func TestFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(testMemoryConfig())
		if err != nil {
			t.Fatalf("factory failed: %v", err)
		}
		defer c.Close()

		if err := c.Ping(context.Background()); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		cfg := testMemoryConfig()
		cfg.Type = "memcached"
		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}

func BenchmarkLRUGet(b *testing.B) {
	c := NewLRUCache(10000)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		_ = c.Set(ctx, fmt.Sprintf("key%d", i), []byte("value"), time.Hour)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get(ctx, fmt.Sprintf("key%d", i%1000))
	}
}
