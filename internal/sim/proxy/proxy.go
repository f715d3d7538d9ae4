// Package proxy serves the entity-state operations away from the authority.
// It validates requests against a read-only view of the registry, forwards
// mutations as intents without waiting for them, and reports them as
// accepted.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
)

var _ protocol.Service = (*Proxy)(nil)

// View is the read side a proxy validates against. Both *registry.Registry
// and the replicated view in internal/nbi satisfy it.
type View interface {
	registry.FrameView
	CheckSpawnableType(typeName string, allowEmpty bool) bool
}

// Option customises Proxy construction.
type Option func(*Proxy)

// WithOrigin stamps every forwarded intent with origin, which the authority
// records in its journal.
func WithOrigin(origin string) Option {
	return func(p *Proxy) {
		p.origin = origin
	}
}

// WithPendingTTL bounds how long a forwarded spawn name stays reserved while
// the view has not caught up. A spawn the authority rejects at commit never
// shows up in the view, so its reservation only ends by expiry.
func WithPendingTTL(ttl time.Duration) Option {
	return func(p *Proxy) {
		if ttl > 0 {
			p.pendingTTL = ttl
		}
	}
}

// DefaultPendingTTL is the spawn reservation lifetime when WithPendingTTL is
// not given.
const DefaultPendingTTL = 10 * time.Second

// Proxy implements protocol.Service on a non-authoritative node.
type Proxy struct {
	view   View
	fwd    protocol.Forwarder
	log    logging.Logger
	origin string

	// pending holds names of spawns forwarded but not yet visible in the view.
	mu         sync.Mutex
	pending    map[string]time.Time
	pendingTTL time.Duration
	now        func() time.Time
}

// New returns a proxy validating against view and forwarding to fwd.
func New(view View, fwd protocol.Forwarder, log logging.Logger, opts ...Option) *Proxy {
	if log == nil {
		log = logging.Noop()
	}
	p := &Proxy{
		view:       view,
		fwd:        fwd,
		log:        log,
		pending:    make(map[string]time.Time),
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// GetEntityState answers from the view. The result may lag the authority.
func (p *Proxy) GetEntityState(ctx context.Context, req *protocol.GetEntityStateRequest) *protocol.GetEntityStateResponse {
	if req == nil {
		return &protocol.GetEntityStateResponse{StatusMessage: "request is required"}
	}
	resp := &protocol.GetEntityStateResponse{StateName: req.Name}
	pose, err := registry.ExternalPose(p.view, req.Name, req.ReferenceFrame)
	if err != nil {
		resp.StatusMessage = err.Error()
		return resp
	}
	resp.Success = true
	resp.Pose = pose
	return resp
}

func (p *Proxy) SetEntityState(ctx context.Context, req *protocol.SetEntityStateRequest) *protocol.SetEntityStateResponse {
	if req == nil {
		return &protocol.SetEntityStateResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	err := p.checkTargetAndFrame(req.StateName, req.StateReferenceFrame, protocol.UnknownEntity)
	if err == nil {
		err = p.forward(ctx, protocol.NewSetEntityStateIntent(*req))
	}
	return &protocol.SetEntityStateResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
}

// Attach forwards a toggle. The resulting attachment state is decided by the
// authority and is not reported here.
func (p *Proxy) Attach(ctx context.Context, req *protocol.AttachRequest) *protocol.AttachResponse {
	if req == nil {
		return &protocol.AttachResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	var missing []string
	for _, name := range []string{req.Name1, req.Name2} {
		if !p.view.CheckEntity(name, false) {
			missing = append(missing, name)
		}
	}
	var err error
	if len(missing) > 0 {
		err = protocol.MissingTarget(missing...)
	} else {
		err = p.forward(ctx, protocol.NewAttachIntent(*req))
	}
	return &protocol.AttachResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
}

func (p *Proxy) SpawnEntity(ctx context.Context, req *protocol.SpawnEntityRequest) *protocol.SpawnEntityResponse {
	if req == nil {
		return &protocol.SpawnEntityResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	err := p.spawn(ctx, req)
	resp := &protocol.SpawnEntityResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
	if err == nil {
		resp.StatusMessage = fmt.Sprintf("spawn of %q as %q forwarded to authority", req.Xml, req.StateName)
	}
	return resp
}

// SpawnEntities validates and forwards each item in request order. A name
// repeated within the batch, or already forwarded by an earlier request, is
// rejected as a collision.
func (p *Proxy) SpawnEntities(ctx context.Context, req *protocol.SpawnEntitiesRequest) *protocol.SpawnEntitiesResponse {
	items, err := req.Items()
	if err != nil {
		return &protocol.SpawnEntitiesResponse{Disposition: protocol.Rejected, StatusMessage: err.Error()}
	}

	var (
		outcome protocol.BatchOutcome
		sent    int
	)
	for i := range items {
		item := &items[i]
		err := p.spawn(ctx, item)
		if err == nil {
			sent++
		}
		outcome.Record(item.StateName, err)
	}

	d := protocol.Accepted
	if sent == 0 && len(items) > 0 {
		d = protocol.Rejected
	}
	return &protocol.SpawnEntitiesResponse{
		Success:       outcome.Success(),
		Disposition:   d,
		StatusMessage: outcome.Message("forwarded"),
	}
}

func (p *Proxy) DeleteEntity(ctx context.Context, req *protocol.DeleteEntityRequest) *protocol.DeleteEntityResponse {
	if req == nil {
		return &protocol.DeleteEntityResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	var err error
	if !p.view.CheckEntity(req.Name, false) {
		err = protocol.MissingTarget(req.Name)
	} else {
		err = p.forward(ctx, protocol.NewDeleteEntityIntent(*req))
	}
	if err == nil {
		p.release(req.Name)
	}
	resp := &protocol.DeleteEntityResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
	if err == nil {
		resp.StatusMessage = fmt.Sprintf("delete of %q forwarded to authority", req.Name)
	}
	return resp
}

func (p *Proxy) checkTargetAndFrame(name, frame string, missing func(string) error) error {
	if !p.view.CheckEntity(name, false) {
		return missing(name)
	}
	if !p.view.CheckEntity(frame, true) {
		return protocol.UnknownReferenceFrame(frame)
	}
	return nil
}

func (p *Proxy) checkSpawn(req *protocol.SpawnEntityRequest) error {
	if !p.view.CheckSpawnableType(req.Xml, false) {
		return protocol.UnknownSpawnableType(req.Xml)
	}
	if !p.view.CheckEntity(req.StateReferenceFrame, true) {
		return protocol.UnknownReferenceFrame(req.StateReferenceFrame)
	}
	if strings.TrimSpace(req.StateName) == "" {
		return fmt.Errorf("%w: state_name is required", protocol.ErrInvalidRequest)
	}
	if p.view.CheckEntity(req.StateName, false) {
		p.release(req.StateName)
		return protocol.NameCollision(req.StateName)
	}
	return nil
}

// spawn validates req, reserves its name and forwards it. The reservation is
// dropped again if forwarding fails.
func (p *Proxy) spawn(ctx context.Context, req *protocol.SpawnEntityRequest) error {
	if err := p.checkSpawn(req); err != nil {
		return err
	}
	if !p.reserve(req.StateName) {
		return protocol.NameCollision(req.StateName)
	}
	if err := p.forward(ctx, protocol.NewSpawnEntityIntent(*req)); err != nil {
		p.release(req.StateName)
		return err
	}
	return nil
}

// reserve claims name for an outgoing spawn. It fails while an earlier spawn
// of the same name is still in flight.
func (p *Proxy) reserve(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for n, at := range p.pending {
		if now.Sub(at) > p.pendingTTL || p.view.CheckEntity(n, false) {
			delete(p.pending, n)
		}
	}
	if _, busy := p.pending[name]; busy {
		return false
	}
	p.pending[name] = now
	return true
}

func (p *Proxy) release(name string) {
	p.mu.Lock()
	delete(p.pending, name)
	p.mu.Unlock()
}

func (p *Proxy) forward(ctx context.Context, in protocol.Intent) error {
	in.Origin = p.origin
	ack, err := p.fwd.Forward(ctx, in)
	log := logging.FromContext(ctx, p.log).With(
		logging.String("intent_id", in.ID),
		logging.String("kind", string(in.Kind)),
		logging.String("entity", in.Target()),
	)
	if err != nil {
		log.Warn(ctx, "failed to forward intent", logging.Err(err))
		return fmt.Errorf("forward %s intent: %w", in.Kind, err)
	}
	log.Debug(ctx, "intent forwarded", logging.Any("accepted_at", ack.AcceptedAt))
	return nil
}

func disposition(err error) protocol.Disposition {
	if err != nil {
		return protocol.Rejected
	}
	return protocol.Accepted
}
