package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacerDelay(t *testing.T) {
	tests := []struct {
		name string
		opts PacerOpts
		r    float64
		want time.Duration
	}{
		{"base only", PacerOpts{Base: 400 * time.Millisecond}, 0.99, 400 * time.Millisecond},
		{"no jitter draw", PagePacing, 0, 400 * time.Millisecond},
		{"half jitter", PagePacing, 0.5, 800 * time.Millisecond},
		{"segment", SegmentPacing, 0.25, 1200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPacer(tt.opts)
			p.rand = func() float64 { return tt.r }
			if got := p.Delay(); got != tt.want {
				t.Fatalf("Delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPacerWaitSleepsDelay(t *testing.T) {
	p := NewPacer(PacerOpts{Base: time.Second, Jitter: time.Second})
	p.rand = func() float64 { return 0.5 }
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	for i := 0; i < 3; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if len(slept) != 3 || slept[0] != 1500*time.Millisecond {
		t.Fatalf("unexpected sleeps %v", slept)
	}
}

func TestPacerWaitCanceled(t *testing.T) {
	p := NewPacer(PacerOpts{Base: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPacerTokenBucket(t *testing.T) {
	p := NewPacer(PacerOpts{Every: time.Hour, Burst: 1})
	p.sleep = func(context.Context, time.Duration) error { return nil }
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("first wait should use the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("second wait should not get a token within the deadline")
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}
	start := time.Now()
	if err := sleepCtx(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("returned early")
	}
}
