package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestRetryPolicy_Delay_uncappedSaturates(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}
	prev := time.Duration(0)
	for i := 0; i < 80; i++ {
		d := p.Delay(i)
		if d < prev {
			t.Fatalf("Delay(%d) = %v, less than Delay(%d) = %v", i, d, i-1, prev)
		}
		prev = d
	}
	if got := p.Delay(200); got != time.Duration(math.MaxInt64) {
		t.Errorf("Delay(200) = %v, want max duration", got)
	}
}

func TestRetryPolicy_Do_permanentStops(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error { return nil }}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errors.New("nope"))
	})
	if err == nil || !IsPermanent(err) {
		t.Fatalf("want permanent error, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d, want 1", attempts, calls)
	}
}

func TestRetryPolicy_Do_zeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	attempts, err := RetryPolicy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts=%d calls=%d", attempts, calls)
	}
}

func TestRetryPolicy_Do_onRetry(t *testing.T) {
	var seen []int
	p := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		OnRetry:     func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) },
	}
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		if attempt < 2 {
			return errors.New("again")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("OnRetry attempts = %v", seen)
	}
}

func TestPermanent_nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
