package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	done := tc.Start(15 * time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestStepNotifiesListeners(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 100*time.Millisecond, RealTime)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })
	tc.Step()
	tc.Step()

	if len(seen) != 2 || !seen[1].Equal(start.Add(200*time.Millisecond)) {
		t.Fatalf("listener saw %v, want two ticks ending at +200ms", seen)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, Accelerated)
	tc.Speedup = 10
	ticks := make(chan time.Time, 64)
	tc.AddListener(func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tc.Run(ctx) }()

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick within 2s")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("accelerated") != Accelerated || ParseMode("realtime") != RealTime || ParseMode("") != RealTime {
		t.Fatalf("ParseMode mapping is wrong")
	}
}
