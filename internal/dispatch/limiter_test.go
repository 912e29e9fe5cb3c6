package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	t.Run("unconfigured destination is not throttled", func(t *testing.T) {
		l := NewLimiter(nil)
		for i := 0; i < 100; i++ {
			if err := l.Wait(context.Background(), "youtube"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})

	t.Run("burst grants tokens immediately", func(t *testing.T) {
		l := NewLimiter(map[string]Limit{"youtube": {RPS: 1, Burst: 3}})

		start := time.Now()
		for i := 0; i < 3; i++ {
			if err := l.Wait(context.Background(), "youtube"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("burst of 3 took %v, expected no throttling", elapsed)
		}
	})

	t.Run("wait honors context cancellation", func(t *testing.T) {
		l := NewLimiter(map[string]Limit{"youtube": {RPS: 0.001, Burst: 1}})
		// Drain the single burst token.
		if err := l.Wait(context.Background(), "youtube"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := l.Wait(ctx, "youtube"); err == nil {
			t.Error("expected error once the context expires")
		}
	})

	t.Run("buckets are independent per destination", func(t *testing.T) {
		l := NewLimiter(map[string]Limit{
			"youtube":  {RPS: 0.001, Burst: 1},
			"facebook": {RPS: 100, Burst: 10},
		})
		l.Wait(context.Background(), "youtube") // drain youtube

		start := time.Now()
		if err := l.Wait(context.Background(), "facebook"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("facebook must not be blocked by youtube's bucket")
		}
	})

	t.Run("set limit replaces the bucket", func(t *testing.T) {
		l := NewLimiter(map[string]Limit{"youtube": {RPS: 0.001, Burst: 1}})
		l.Wait(context.Background(), "youtube")

		l.SetLimit("youtube", Limit{RPS: 1000, Burst: 10})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Wait(ctx, "youtube"); err != nil {
			t.Errorf("unexpected error after raising the limit: %v", err)
		}
	})
}
