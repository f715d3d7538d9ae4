package nbi

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

var _ protocol.Forwarder = (*AuthorityClient)(nil)

// ForwardRecorder counts intents delivered to the authority.
type ForwardRecorder interface {
	IncForwarded()
}

// AuthorityClientOption customises AuthorityClient construction.
type AuthorityClientOption func(*AuthorityClient)

// WithForwardRecorder attaches an optional delivery counter.
func WithForwardRecorder(m ForwardRecorder) AuthorityClientOption {
	return func(c *AuthorityClient) {
		c.metrics = m
	}
}

// WithRetry sets how many times a delivery is attempted while the authority
// is unavailable, and the initial backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) AuthorityClientOption {
	return func(c *AuthorityClient) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// AuthorityClient talks to entitystate.v1.Authority. As a protocol.Forwarder
// it queues intents in an outbox drained by Run, so intents reach the
// authority in the order they were forwarded and Forward never waits on the
// network.
type AuthorityClient struct {
	cc      grpc.ClientConnInterface
	log     logging.Logger
	metrics ForwardRecorder

	attempts int
	backoff  time.Duration

	mu     sync.Mutex
	outbox []protocol.Intent
	closed bool
	wake   chan struct{}
}

// NewAuthorityClient wraps cc, which should come from Dial.
func NewAuthorityClient(cc grpc.ClientConnInterface, log logging.Logger, opts ...AuthorityClientOption) *AuthorityClient {
	if log == nil {
		log = logging.Noop()
	}
	c := &AuthorityClient{
		cc:       cc,
		log:      log,
		attempts: 5,
		backoff:  50 * time.Millisecond,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Forward appends in to the outbox.
func (c *AuthorityClient) Forward(ctx context.Context, in protocol.Intent) (protocol.AcceptedAck, error) {
	if err := in.Validate(); err != nil {
		return protocol.AcceptedAck{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return protocol.AcceptedAck{}, ErrOutboxClosed
	}
	c.outbox = append(c.outbox, in)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return protocol.AcceptedAck{IntentID: in.ID, AcceptedAt: time.Now()}, nil
}

// Close stops accepting intents. Run still drains what is queued.
func (c *AuthorityClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many intents are waiting for delivery.
func (c *AuthorityClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Run delivers queued intents one at a time until ctx is cancelled, or until
// Close has been called and the outbox is empty.
func (c *AuthorityClient) Run(ctx context.Context) error {
	for {
		for {
			in, ok := c.peek()
			if !ok {
				break
			}
			c.deliver(ctx, in)
			c.pop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		c.mu.Lock()
		done := c.closed && len(c.outbox) == 0
		c.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
	}
}

func (c *AuthorityClient) deliver(ctx context.Context, in protocol.Intent) {
	log := c.log.With(logging.String("intent_id", in.ID), logging.String("kind", string(in.Kind)))
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		_, err := c.ApplyIntent(ctx, &in)
		if err == nil {
			if c.metrics != nil {
				c.metrics.IncForwarded()
			}
			return
		}
		if status.Code(err) != codes.Unavailable || attempt >= c.attempts {
			// Nobody is waiting on this intent; it is dropped.
			log.Warn(ctx, "failed to deliver intent to authority",
				logging.Int("attempts", attempt), logging.Err(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *AuthorityClient) peek() (protocol.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbox) == 0 {
		return protocol.Intent{}, false
	}
	return c.outbox[0], true
}

func (c *AuthorityClient) pop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbox) > 0 {
		c.outbox[0] = protocol.Intent{}
		c.outbox = c.outbox[1:]
	}
}

// ApplyIntent sends one intent synchronously, bypassing the outbox.
func (c *AuthorityClient) ApplyIntent(ctx context.Context, in *protocol.Intent, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, fullMethod(AuthorityServiceName, methodApplyIntent), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot fetches the authority's registry.
func (c *AuthorityClient) Snapshot(ctx context.Context) (*protocol.RegistrySnapshot, error) {
	out := new(protocol.RegistrySnapshot)
	if err := c.cc.Invoke(ctx, fullMethod(AuthorityServiceName, methodSnapshot), &protocol.SnapshotRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
