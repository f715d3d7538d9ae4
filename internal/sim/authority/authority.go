// Package authority implements the single writer of the entity registry. It
// executes entity-state operations synchronously and commits intents
// forwarded by proxies.
package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/signalsfoundry/entity-state-sim/core"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/journal"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/registry"
	"github.com/signalsfoundry/entity-state-sim/internal/sim/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/entity-state-sim/internal/sim/authority"

var _ protocol.Service = (*Authority)(nil)

// Journal records intent outcomes. *journal.Store satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// IntentRecorder counts applied intents by kind and outcome.
type IntentRecorder interface {
	RecordIntent(kind, outcome string)
}

// Option customises Authority construction.
type Option func(*Authority)

// WithJournal attaches a journal that receives every intent outcome.
func WithJournal(j Journal) Option {
	return func(a *Authority) {
		a.journal = j
	}
}

// WithIntentRecorder attaches an optional intent metrics recorder.
func WithIntentRecorder(m IntentRecorder) Option {
	return func(a *Authority) {
		a.metrics = m
	}
}

// Authority is the only component allowed to mutate the registry.
type Authority struct {
	// mu serialises every mutation of host and registry state issued by
	// this authority. Reads go through the registry's own read lock.
	mu sync.Mutex

	host     world.Host
	registry *registry.Registry

	log     logging.Logger
	journal Journal
	metrics IntentRecorder
}

// New wires an Authority to its host and registry.
func New(host world.Host, reg *registry.Registry, log logging.Logger, opts ...Option) *Authority {
	if log == nil {
		log = logging.Noop()
	}
	a := &Authority{
		host:     host,
		registry: reg,
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Registry exposes the registry for read-only consumers such as the state
// publisher and the snapshot service.
func (a *Authority) Registry() *registry.Registry {
	return a.registry
}

// GetEntityState returns the pose of req.Name relative to req.ReferenceFrame
// in external convention. Velocity is not tracked and is always zero.
func (a *Authority) GetEntityState(ctx context.Context, req *protocol.GetEntityStateRequest) *protocol.GetEntityStateResponse {
	if req == nil {
		return &protocol.GetEntityStateResponse{StatusMessage: "request is required"}
	}
	resp := &protocol.GetEntityStateResponse{StateName: req.Name}
	pose, err := registry.ExternalPose(a.registry, req.Name, req.ReferenceFrame)
	if err != nil {
		resp.StatusMessage = err.Error()
		return resp
	}
	resp.Success = true
	resp.Pose = pose
	return resp
}

// SetEntityState moves req.StateName to a pose expressed in
// req.StateReferenceFrame.
func (a *Authority) SetEntityState(ctx context.Context, req *protocol.SetEntityStateRequest) *protocol.SetEntityStateResponse {
	if req == nil {
		return &protocol.SetEntityStateResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	err := a.setEntityState(ctx, req)
	return &protocol.SetEntityStateResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
}

// Attach toggles whether req.Name2 is attached to req.Name1, keeping
// Name2's world pose either way. It is not idempotent.
func (a *Authority) Attach(ctx context.Context, req *protocol.AttachRequest) *protocol.AttachResponse {
	if req == nil {
		return &protocol.AttachResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	attached, err := a.attach(ctx, req)
	return &protocol.AttachResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		Attached:      attached,
		StatusMessage: protocol.StatusMessage(err),
	}
}

// SpawnEntity instantiates req.Xml as req.StateName.
func (a *Authority) SpawnEntity(ctx context.Context, req *protocol.SpawnEntityRequest) *protocol.SpawnEntityResponse {
	if req == nil {
		return &protocol.SpawnEntityResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	err := a.spawnEntity(ctx, req)
	resp := &protocol.SpawnEntityResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
	if err == nil {
		resp.StatusMessage = fmt.Sprintf("spawned entity of type %q as %q", req.Xml, req.StateName)
	}
	return resp
}

// SpawnEntities spawns each item in request order. A failing item does not
// stop the batch.
func (a *Authority) SpawnEntities(ctx context.Context, req *protocol.SpawnEntitiesRequest) *protocol.SpawnEntitiesResponse {
	items, err := req.Items()
	if err != nil {
		return &protocol.SpawnEntitiesResponse{Disposition: protocol.Rejected, StatusMessage: err.Error()}
	}

	var outcome protocol.BatchOutcome
	for i := range items {
		err := a.spawnEntity(ctx, &items[i])
		if err != nil {
			logging.FromContext(ctx, a.log).Warn(ctx, "batch spawn item failed",
				logging.String("entity", items[i].StateName), logging.Err(err))
		}
		outcome.Record(items[i].StateName, err)
	}
	// Items that succeeded stay committed even when the batch as a whole fails.
	return &protocol.SpawnEntitiesResponse{
		Success:       outcome.Success(),
		Disposition:   protocol.Committed,
		StatusMessage: outcome.Message("spawned"),
	}
}

// DeleteEntity destroys req.Name and removes it from the registry.
func (a *Authority) DeleteEntity(ctx context.Context, req *protocol.DeleteEntityRequest) *protocol.DeleteEntityResponse {
	if req == nil {
		return &protocol.DeleteEntityResponse{Disposition: protocol.Rejected, StatusMessage: "request is required"}
	}
	err := a.deleteEntity(ctx, req)
	resp := &protocol.DeleteEntityResponse{
		Success:       err == nil,
		Disposition:   disposition(err),
		StatusMessage: protocol.StatusMessage(err),
	}
	if err == nil {
		resp.StatusMessage = fmt.Sprintf("deleted entity %q", req.Name)
	}
	return resp
}

// AddEntity brings a live host object under registry control.
func (a *Authority) AddEntity(ctx context.Context, name string, h world.Handle, tags ...string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: entity name is required", protocol.ErrInvalidRequest)
	}
	if !a.host.Alive(h) {
		return protocol.UnknownEntity(name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registry.AddEntity(registry.Entity{Name: name, Handle: h, Tags: tags})
	logging.FromContext(ctx, a.log).Info(ctx, "entity added to registry", logging.String("entity", name))
	return nil
}

// Apply commits a forwarded intent after re-validating it against the
// authoritative registry. A spawn whose name was taken after the proxy
// validated it is rejected here rather than overwriting the existing entity.
func (a *Authority) Apply(ctx context.Context, in protocol.Intent) (protocol.CommittedAck, error) {
	if err := in.Validate(); err != nil {
		a.record(ctx, in, err)
		return protocol.CommittedAck{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "authority.Apply", trace.WithAttributes(
		attribute.String("intent.id", in.ID),
		attribute.String("intent.kind", string(in.Kind)),
		attribute.String("entity_id", in.Target()),
	))
	defer span.End()

	var err error
	switch in.Kind {
	case protocol.IntentSetEntityState:
		err = a.setEntityState(ctx, in.SetEntityState)
	case protocol.IntentAttach:
		_, err = a.attach(ctx, in.Attach)
	case protocol.IntentSpawnEntity:
		err = a.spawnEntity(ctx, in.SpawnEntity)
	case protocol.IntentDeleteEntity:
		err = a.deleteEntity(ctx, in.DeleteEntity)
	}
	if err != nil {
		span.RecordError(err)
	}

	a.record(ctx, in, err)
	if err != nil {
		return protocol.CommittedAck{}, fmt.Errorf("apply intent %s: %w", in.ID, err)
	}
	return protocol.CommittedAck{IntentID: in.ID, Revision: a.registry.Revision()}, nil
}

func (a *Authority) record(ctx context.Context, in protocol.Intent, err error) {
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	if a.metrics != nil {
		a.metrics.RecordIntent(string(in.Kind), outcome)
	}

	log := logging.FromContext(ctx, a.log).With(
		logging.String("intent_id", in.ID),
		logging.String("kind", string(in.Kind)),
		logging.String("entity", in.Target()),
	)
	if err != nil {
		log.Warn(ctx, "intent rejected by authority", logging.Err(err))
	} else {
		log.Debug(ctx, "intent committed")
	}

	if a.journal == nil {
		return
	}
	if jerr := a.journal.Record(ctx, journal.Entry{
		IntentID:  in.ID,
		Kind:      string(in.Kind),
		Entity:    in.Target(),
		Origin:    in.Origin,
		Committed: err == nil,
		Message:   protocol.StatusMessage(err),
	}); jerr != nil {
		log.Warn(ctx, "failed to journal intent", logging.Err(jerr))
	}
}

func (a *Authority) setEntityState(ctx context.Context, req *protocol.SetEntityStateRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.CheckEntity(req.StateName, false) {
		return protocol.UnknownEntity(req.StateName)
	}
	if !a.registry.CheckEntity(req.StateReferenceFrame, true) {
		return protocol.UnknownReferenceFrame(req.StateReferenceFrame)
	}

	rel := core.ExternalToInternal(req.Pose.Transform())
	refT, err := a.registry.ResolveFrame(req.StateReferenceFrame)
	if err != nil {
		return err
	}
	e, ok := a.registry.Lookup(req.StateName)
	if !ok {
		return protocol.UnknownEntity(req.StateName)
	}
	if err := a.host.SetWorldTransform(e.Handle, core.ToWorld(rel, refT)); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrUnknownEntity, err)
	}
	return nil
}

func (a *Authority) attach(ctx context.Context, req *protocol.AttachRequest) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ok1 := a.registry.CheckEntity(req.Name1, false)
	ok2 := a.registry.CheckEntity(req.Name2, false)
	switch {
	case !ok1 && !ok2:
		return false, protocol.MissingTarget(req.Name1, req.Name2)
	case !ok1:
		return false, protocol.MissingTarget(req.Name1)
	case !ok2:
		return false, protocol.MissingTarget(req.Name2)
	}

	e1, _ := a.registry.Lookup(req.Name1)
	e2, _ := a.registry.Lookup(req.Name2)
	log := logging.FromContext(ctx, a.log).With(logging.String("parent", req.Name1), logging.String("child", req.Name2))

	if !a.host.IsAttachedTo(e2.Handle, e1.Handle) {
		if err := a.host.AttachTo(e2.Handle, e1.Handle); err != nil {
			return false, fmt.Errorf("%w: attach %q to %q: %v", protocol.ErrInvalidRequest, req.Name2, req.Name1, err)
		}
		log.Info(ctx, "entity attached")
		return true, nil
	}
	if err := a.host.Detach(e2.Handle); err != nil {
		return true, fmt.Errorf("%w: detach %q: %v", protocol.ErrInvalidRequest, req.Name2, err)
	}
	log.Info(ctx, "entity detached")
	return false, nil
}

func (a *Authority) spawnEntity(ctx context.Context, req *protocol.SpawnEntityRequest) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "authority.SpawnEntity", trace.WithAttributes(
		attribute.String("entity_type", req.Xml),
		attribute.String("entity_id", req.StateName),
	))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.CheckSpawnableType(req.Xml, false) {
		return protocol.UnknownSpawnableType(req.Xml)
	}
	if !a.registry.CheckEntity(req.StateReferenceFrame, true) {
		return protocol.UnknownReferenceFrame(req.StateReferenceFrame)
	}
	if strings.TrimSpace(req.StateName) == "" {
		return fmt.Errorf("%w: state_name is required", protocol.ErrInvalidRequest)
	}
	if a.registry.CheckEntity(req.StateName, false) {
		return protocol.NameCollision(req.StateName)
	}

	rel := core.ExternalToInternal(req.Pose.Transform())
	refT, err := a.registry.ResolveFrame(req.StateReferenceFrame)
	if err != nil {
		return err
	}
	proto, ok := a.registry.Prototype(req.Xml)
	if !ok {
		return protocol.UnknownSpawnableType(req.Xml)
	}

	h, err := a.host.Instantiate(proto, req.StateName, core.ToWorld(rel, refT), world.SpawnParams{
		TypeName:     req.Xml,
		Namespace:    req.RobotNamespace,
		Tags:         req.Tags,
		TwistLinear:  req.Twist.Linear.Vec3(),
		TwistAngular: req.Twist.Angular.Vec3(),
	})
	if err != nil {
		if errors.Is(err, world.ErrPrototypeNotFound) {
			return protocol.UnknownSpawnableType(req.Xml)
		}
		return fmt.Errorf("instantiate %q: %w", req.Xml, err)
	}
	a.registry.AddEntity(registry.Entity{Name: req.StateName, Handle: h, Tags: req.Tags})

	logging.FromContext(ctx, a.log).Info(ctx, "spawned entity",
		logging.String("type", req.Xml),
		logging.String("entity", req.StateName),
		logging.String("reference_frame", req.StateReferenceFrame),
	)
	return nil
}

func (a *Authority) deleteEntity(ctx context.Context, req *protocol.DeleteEntityRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.registry.CheckEntity(req.Name, false) {
		return protocol.MissingTarget(req.Name)
	}
	e, ok := a.registry.Lookup(req.Name)
	if !ok {
		return protocol.MissingTarget(req.Name)
	}
	if err := a.host.Destroy(e.Handle); err != nil && !errors.Is(err, world.ErrHandleInvalid) {
		return fmt.Errorf("destroy %q: %w", req.Name, err)
	}
	a.registry.Remove(req.Name)

	logging.FromContext(ctx, a.log).Info(ctx, "deleted entity", logging.String("entity", req.Name))
	return nil
}

func disposition(err error) protocol.Disposition {
	if err != nil {
		return protocol.Rejected
	}
	return protocol.Committed
}
