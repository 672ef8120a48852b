package runstate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFlag_StartsRunning(t *testing.T) {
	f := New()

	if !f.Running() {
		t.Error("Running() = false, want true")
	}
	if f.Outcome() != OutcomeNone {
		t.Errorf("Outcome() = %v, want none", f.Outcome())
	}
	select {
	case <-f.Done():
		t.Error("Done() closed before Clear")
	default:
	}
}

func TestFlag_FirstClearWins(t *testing.T) {
	f := New()

	if !f.Clear(OutcomeAdvance) {
		t.Fatal("first Clear() = false, want true")
	}
	if f.Clear(OutcomeStopped) {
		t.Error("second Clear() = true, want false")
	}

	if f.Running() {
		t.Error("Running() = true after Clear")
	}
	if f.Outcome() != OutcomeAdvance {
		t.Errorf("Outcome() = %v, want advance", f.Outcome())
	}
	select {
	case <-f.Done():
	default:
		t.Error("Done() not closed after Clear")
	}
}

func TestFlag_ConcurrentClear(t *testing.T) {
	f := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Clear(OutcomeStopped) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestFlag_Sleep(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *Flag, cancel context.CancelFunc)
		d       time.Duration
		want    bool
		maxWait time.Duration
	}{
		{
			name:    "full duration",
			setup:   func(*Flag, context.CancelFunc) {},
			d:       20 * time.Millisecond,
			want:    true,
			maxWait: time.Second,
		},
		{
			name: "cleared while sleeping",
			setup: func(f *Flag, _ context.CancelFunc) {
				time.AfterFunc(10*time.Millisecond, func() { f.Clear(OutcomeStopped) })
			},
			d:       10 * time.Second,
			want:    false,
			maxWait: time.Second,
		},
		{
			name: "context cancelled",
			setup: func(_ *Flag, cancel context.CancelFunc) {
				time.AfterFunc(10*time.Millisecond, cancel)
			},
			d:       10 * time.Second,
			want:    false,
			maxWait: time.Second,
		},
		{
			name:    "already cleared",
			setup:   func(f *Flag, _ context.CancelFunc) { f.Clear(OutcomeStopped) },
			d:       10 * time.Second,
			want:    false,
			maxWait: 100 * time.Millisecond,
		},
		{
			name:    "zero duration",
			setup:   func(*Flag, context.CancelFunc) {},
			d:       0,
			want:    true,
			maxWait: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New()
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()
			tt.setup(f, cancel)

			start := time.Now()
			got := f.Sleep(ctx, tt.d)
			elapsed := time.Since(start)

			if got != tt.want {
				t.Errorf("Sleep() = %v, want %v", got, tt.want)
			}
			if elapsed > tt.maxWait {
				t.Errorf("Sleep() took %v, want < %v", elapsed, tt.maxWait)
			}
		})
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeNone, "none"},
		{OutcomeCompleted, "completed"},
		{OutcomeStopped, "stopped"},
		{OutcomeAdvance, "advance"},
		{Outcome(99), "none"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
