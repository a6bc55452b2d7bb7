package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestCheckAllowsUnconfiguredKey(t *testing.T) {
	lim := New(time.Hour, time.Hour, time.Millisecond)
	defer lim.Close()

	d := lim.Check("nonexistent")
	if !d.Allowed {
		t.Error("unconfigured key should always be allowed")
	}
}

func TestCheckHardCapWithZeroBurst(t *testing.T) {
	lim := New(time.Hour, time.Hour, time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "k", MaxRequests: 2, Window: time.Minute})

	if !lim.Check("k").Allowed {
		t.Fatal("request 1 should be allowed")
	}
	if !lim.Check("k").Allowed {
		t.Fatal("request 2 should be allowed")
	}
	d := lim.Check("k")
	if d.Allowed {
		t.Error("request 3 should be denied with zero burst fraction")
	}
	if d.Reason != DenyReasonLimitExceeded {
		t.Errorf("Reason = %q, want %q", d.Reason, DenyReasonLimitExceeded)
	}
}

func TestCheckAllowsWithinBurst(t *testing.T) {
	lim := New(time.Hour, time.Hour, time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "k", MaxRequests: 2, Window: time.Minute, BurstFraction: 0.5})

	lim.Check("k")
	lim.Check("k")
	d := lim.Check("k")
	if !d.Allowed || !d.Burst {
		t.Errorf("third request should be allowed as burst, got %+v", d)
	}
	d2 := lim.Check("k")
	if d2.Allowed {
		t.Error("fourth request should be denied past the burst cap")
	}
}

func TestCheckProviderCoordination(t *testing.T) {
	lim := New(time.Hour, time.Hour, time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "a", MaxRequests: 10, Window: time.Minute, Provider: "shared"})
	lim.Configure(Key{Name: "b", MaxRequests: 1, Window: time.Minute, Provider: "shared"})

	if !lim.Check("a").Allowed {
		t.Fatal("first request against shared provider should be allowed")
	}
	d := lim.Check("b")
	if d.Allowed {
		t.Error("provider cap should block the second key sharing the provider")
	}
	if d.Reason != DenyReasonProviderExceeded {
		t.Errorf("Reason = %q, want %q", d.Reason, DenyReasonProviderExceeded)
	}
}

func TestWaitForRateLimitTimesOut(t *testing.T) {
	lim := New(time.Hour, time.Hour, 10*time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "k", MaxRequests: 1, Window: time.Hour})

	lim.Check("k")

	err := lim.WaitForRateLimit(context.Background(), "k", 50*time.Millisecond)
	if err == nil {
		t.Error("WaitForRateLimit should time out when the window never resets in time")
	}
}

func TestWaitForRateLimitSucceedsAfterWindow(t *testing.T) {
	lim := New(time.Hour, time.Hour, 5*time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "k", MaxRequests: 1, Window: 20 * time.Millisecond})

	lim.Check("k")

	err := lim.WaitForRateLimit(context.Background(), "k", time.Second)
	if err != nil {
		t.Errorf("WaitForRateLimit should succeed once the window resets: %v", err)
	}
}

func TestBurstThenBlockBackToBack(t *testing.T) {
	lim := New(time.Hour, time.Hour, time.Millisecond)
	defer lim.Close()
	lim.Configure(Key{Name: "k", MaxRequests: 5, Window: time.Second, BurstFraction: 0.4})

	allowed := 0
	for i := 0; i < 8; i++ {
		if lim.Check("k").Allowed {
			allowed++
		}
	}
	if allowed != 7 {
		t.Errorf("allowed = %d, want 7 (5 base + 2 burst)", allowed)
	}
}
