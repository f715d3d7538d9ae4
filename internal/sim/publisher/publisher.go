// Package publisher samples entity states on every simulation clock tick and
// fans them out to subscribers.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
)

// View is the read side the publisher samples from.
type View interface {
	registry.FrameView
	Names() []string
}

// Publisher turns clock ticks into protocol.EntityStates batches.
type Publisher struct {
	view View
	log  logging.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// Subscription receives one batch per tick on C. Batches are dropped, not
// queued, when the subscriber falls behind.
type Subscription struct {
	id    uint64
	names []string
	frame string
	ch    chan protocol.EntityStates

	// last holds the previous external-convention position per entity, used
	// for the finite-difference twist.
	last     map[string]protocol.Vector3
	lastTime time.Time
	dropped  int
}

// C returns the channel batches are delivered on. It is closed on
// unsubscribe.
func (s *Subscription) C() <-chan protocol.EntityStates { return s.ch }

// New returns a publisher sampling view.
func New(view View, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{view: view, log: log, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers interest in names (all entities when empty) relative
// to frame. The returned function unsubscribes and closes the channel.
func (p *Publisher) Subscribe(names []string, frame string, buffer int) (*Subscription, func()) {
	if buffer < 1 {
		buffer = 1
	}
	p.mu.Lock()
	p.nextID++
	sub := &Subscription{
		id:    p.nextID,
		names: append([]string(nil), names...),
		frame: frame,
		ch:    make(chan protocol.EntityStates, buffer),
		last:  make(map[string]protocol.Vector3),
	}
	p.subs[sub.id] = sub
	p.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, sub.id)
			p.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// OnTick samples every subscription at simTime. It is meant to be registered
// as a timectrl listener.
func (p *Publisher) OnTick(simTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs {
		batch := p.sample(sub, simTime)
		select {
		case sub.ch <- batch:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				p.log.Debug(context.Background(), "subscriber is behind; dropping state batch",
					logging.Int("dropped", sub.dropped))
			}
		}
	}
}

func (p *Publisher) sample(sub *Subscription, simTime time.Time) protocol.EntityStates {
	names := sub.names
	if len(names) == 0 {
		names = p.view.Names()
	}

	var dt float64
	if !sub.lastTime.IsZero() {
		dt = simTime.Sub(sub.lastTime).Seconds()
	}

	out := protocol.EntityStates{SimTime: simTime, States: make([]protocol.EntityState, 0, len(names))}
	seen := make(map[string]protocol.Vector3, len(names))
	for _, name := range names {
		pose, err := registry.ExternalPose(p.view, name, sub.frame)
		if err != nil {
			continue
		}
		st := protocol.EntityState{Name: name, Pose: pose}
		if prev, ok := sub.last[name]; ok && dt > 0 {
			st.TwistLinear = protocol.Vector3{
				X: (pose.Position.X - prev.X) / dt,
				Y: (pose.Position.Y - prev.Y) / dt,
				Z: (pose.Position.Z - prev.Z) / dt,
			}
		}
		seen[name] = pose.Position
		out.States = append(out.States, st)
	}
	sub.last = seen
	sub.lastTime = simTime
	return out
}
