package authority

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
)

var _ protocol.Forwarder = (*Dispatcher)(nil)

// Applier commits intents. *Authority satisfies it.
type Applier interface {
	Apply(ctx context.Context, in protocol.Intent) (protocol.CommittedAck, error)
}

// QueueRecorder observes the dispatch queue.
type QueueRecorder interface {
	SetQueueDepth(n int)
	ObserveApply(d time.Duration)
}

// DispatcherOption customises Dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithQueueRecorder attaches an optional queue metrics recorder.
func WithQueueRecorder(m QueueRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher queues intents and applies them one at a time, in submission
// order, on the goroutine running Run. The queue is unbounded so Forward
// never blocks the caller.
type Dispatcher struct {
	applier Applier
	log     logging.Logger
	now     func() time.Time
	metrics QueueRecorder

	mu      sync.Mutex
	queue   []protocol.Intent
	applied uint64
	wake    chan struct{}
}

// NewDispatcher returns a dispatcher feeding applier.
func NewDispatcher(applier Applier, log logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	d := &Dispatcher{
		applier: applier,
		log:     log,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Forward enqueues in and returns immediately. Only structurally invalid
// intents are refused here; everything else is decided by the applier.
func (d *Dispatcher) Forward(ctx context.Context, in protocol.Intent) (protocol.AcceptedAck, error) {
	if err := in.Validate(); err != nil {
		return protocol.AcceptedAck{}, err
	}
	d.mu.Lock()
	d.queue = append(d.queue, in)
	depth := len(d.queue)
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.SetQueueDepth(depth)
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return protocol.AcceptedAck{IntentID: in.ID, AcceptedAt: d.now()}, nil
}

// Pending reports how many intents are queued and not yet applied.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Applied reports how many intents have been handed to the applier.
func (d *Dispatcher) Applied() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied
}

// Run drains the queue until ctx is cancelled. Intents still queued at
// cancellation are dropped and logged.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		for {
			in, ok := d.next()
			if !ok {
				break
			}
			start := time.Now()
			_, err := d.applier.Apply(ctx, in)
			if d.metrics != nil {
				d.metrics.ObserveApply(time.Since(start))
				d.metrics.SetQueueDepth(d.Pending())
			}
			if err != nil {
				// Rejections are journaled by the applier; nobody waits on them.
				d.log.Debug(ctx, "intent not committed",
					logging.String("intent_id", in.ID), logging.Err(err))
			}
			d.mu.Lock()
			d.applied++
			d.mu.Unlock()
			if ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			if n := d.Pending(); n > 0 {
				d.log.Warn(context.Background(), "dispatcher stopped with queued intents",
					logging.Int("dropped", n))
			}
			return ctx.Err()
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) next() (protocol.Intent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return protocol.Intent{}, false
	}
	in := d.queue[0]
	d.queue[0] = protocol.Intent{}
	d.queue = d.queue[1:]
	return in, true
}
