package cache

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSetGet(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	defer c.Stop()

	c.Set("a", 1, time.Minute)

	got, ok := c.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get(missing) should report absent")
	}
}

func TestExpiry(t *testing.T) {
	c := NewTTL[string, string](time.Hour)
	defer c.Stop()

	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry should not be returned")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after lazy eviction, want 0", c.Len())
	}
}

func TestNonPositiveTTLStoresNothing(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	defer c.Stop()

	c.Set("k", 1, 0)
	c.Set("k2", 2, -time.Second)

	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestDelete(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	defer c.Stop()

	c.Set("k", 1, time.Minute)
	c.Delete("k")

	if _, ok := c.Get("k"); ok {
		t.Fatal("deleted entry should be absent")
	}
}

func TestSweepReclaimsExpired(t *testing.T) {
	c := NewTTL[string, int](20 * time.Millisecond)
	defer c.Stop()

	c.Set("k", 1, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweep did not reclaim expired entry within 1s")
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewTTL[string, int](time.Hour)
	c.Stop()
	c.Stop()
}
