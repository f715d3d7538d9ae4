package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time, so consumers such
// as the state publisher depend on a clock abstraction rather than on a
// concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated steps by Tick every Tick/Speedup of wall-clock time.
	Accelerated
)

// ParseMode maps "realtime" and "accelerated" to a Mode. Anything else is
// RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" {
		return Accelerated
	}
	return RealTime
}

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode
	// Speedup divides the wall-clock interval between ticks in Accelerated
	// mode. Values below 1 are treated as 1.
	Speedup float64

	// currentTime tracks the current simulation time. It is updated
	// as the controller advances time.
	currentTime time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		Speedup:     1,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the simulation clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances simulation time by one tick and notifies listeners
// synchronously. It returns the new simulation time.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	simTime := tc.currentTime
	listeners := append(([]func(time.Time))(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(simTime)
	}
	return simTime
}

func (tc *TimeController) interval() time.Duration {
	if tc.Mode != Accelerated || tc.Speedup <= 1 {
		return tc.Tick
	}
	d := time.Duration(float64(tc.Tick) / tc.Speedup)
	if d <= 0 {
		d = time.Microsecond
	}
	return d
}

// Run steps the clock until ctx is cancelled.
func (tc *TimeController) Run(ctx context.Context) error {
	ticker := time.NewTicker(tc.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tc.Step()
		}
	}
}

// Start runs the controller for the specified duration of simulation time in
// a separate goroutine. It returns a channel that is closed when the
// controller finishes.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.SetTime(tc.StartTime)
		ticker := time.NewTicker(tc.interval())
		defer ticker.Stop()

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
			<-ticker.C
			tc.Step()
		}
	}()
	return done
}
