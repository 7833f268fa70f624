// Package hub is the inter-agent message bus: topic subscriptions, direct and
// broadcast delivery, request/reply correlation, ACL-scoped shared regions,
// barriers, and result collectors.
//
// The hub holds subscriptions keyed by agent id, never agent objects, so it
// puts no lifetime constraints on the tree.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders envelopes when a transport needs to choose.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Broadcast is the sentinel destination for fan-out sends.
const Broadcast = "*broadcast"

// Envelope is one message on the bus.
type Envelope struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Topic         string    `json:"topic"`
	Payload       any       `json:"payload"`
	Priority      Priority  `json:"priority"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Handler receives envelopes synchronously. It must not block.
type Handler func(Envelope)

var (
	ErrDestroyed      = errors.New("hub: destroyed")
	ErrTimeout        = errors.New("hub: timed out")
	ErrRegionExists   = errors.New("hub: region already exists")
	ErrUnknownRegion  = errors.New("hub: unknown region")
	ErrNotInACL       = errors.New("hub: agent not in region acl")
	ErrBarrierExists  = errors.New("hub: barrier already exists")
	ErrUnknownBarrier = errors.New("hub: unknown barrier")
	ErrNotParticipant = errors.New("hub: agent is not a barrier participant")
	ErrUnknownCollect = errors.New("hub: unknown collector")
)

type region struct {
	owner string
	acl   map[string]struct{}
	data  map[string]any
}

func (r *region) allowed(agentID string) bool {
	if agentID == r.owner {
		return true
	}
	_, ok := r.acl[agentID]
	return ok
}

type barrier struct {
	participants map[string]struct{}
	arrived      map[string]struct{}
	done         chan struct{} // closed when all participants arrived
	rejected     chan struct{} // closed on hub destroy
}

type collector struct {
	expected int
	results  map[string]any
	done     chan struct{}
	rejected chan struct{}
}

// Hub is the bus. All state is mutated under one mutex; handlers and waiters
// run outside it.
type Hub struct {
	mu         sync.Mutex
	destroyed  bool
	subs       map[string]map[string]Handler // topic -> agentID -> handler
	pending    map[string]chan Envelope      // correlationID -> reply slot
	regions    map[string]*region
	barriers   map[string]*barrier
	collectors map[string]*collector
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		subs:       make(map[string]map[string]Handler),
		pending:    make(map[string]chan Envelope),
		regions:    make(map[string]*region),
		barriers:   make(map[string]*barrier),
		collectors: make(map[string]*collector),
	}
}

// Subscribe registers a handler for (agentID, topic), replacing any previous
// one, and returns an unsubscribe func.
func (h *Hub) Subscribe(agentID, topic string, handler Handler) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrDestroyed
	}
	byAgent, ok := h.subs[topic]
	if !ok {
		byAgent = make(map[string]Handler)
		h.subs[topic] = byAgent
	}
	byAgent[agentID] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.subs[topic]; ok {
			delete(cur, agentID)
			if len(cur) == 0 {
				delete(h.subs, topic)
			}
		}
	}, nil
}

// Send delivers synchronously to the single subscriber (env.To, env.Topic).
// It reports whether a subscriber received the envelope.
func (h *Hub) Send(env Envelope) (bool, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return false, ErrDestroyed
	}
	h.stamp(&env)
	var handler Handler
	if byAgent, ok := h.subs[env.Topic]; ok {
		handler = byAgent[env.To]
	}
	h.mu.Unlock()

	if handler == nil {
		return false, nil
	}
	handler(env)
	return true, nil
}

// Broadcast delivers to every subscriber of the topic except the sender and
// returns the delivery count.
func (h *Hub) Broadcast(from, topic string, payload any, priority Priority) (int, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return 0, ErrDestroyed
	}
	env := Envelope{From: from, To: Broadcast, Topic: topic, Payload: payload, Priority: priority}
	h.stamp(&env)
	type target struct {
		id      string
		handler Handler
	}
	var targets []target
	for id, handler := range h.subs[topic] {
		if id == from {
			continue
		}
		targets = append(targets, target{id, handler})
	}
	h.mu.Unlock()

	for _, t := range targets {
		delivered := env
		delivered.To = t.id
		t.handler(delivered)
	}
	return len(targets), nil
}

// Request sends with a fresh correlation id and blocks until a matching Reply
// arrives, the timeout elapses, or the hub is destroyed.
func (h *Hub) Request(ctx context.Context, to, topic string, payload any, from string, timeout time.Duration) (Envelope, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return Envelope{}, ErrDestroyed
	}
	correlationID := uuid.NewString()
	slot := make(chan Envelope, 1)
	h.pending[correlationID] = slot
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, correlationID)
		h.mu.Unlock()
	}()

	if _, err := h.Send(Envelope{
		From:          from,
		To:            to,
		Topic:         topic,
		Payload:       payload,
		Priority:      PriorityNormal,
		CorrelationID: correlationID,
	}); err != nil {
		return Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-slot:
		if !ok {
			return Envelope{}, ErrDestroyed
		}
		return reply, nil
	case <-timer.C:
		return Envelope{}, fmt.Errorf("%w: no reply on %s within %s", ErrTimeout, topic, timeout)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Reply completes the request waiting on correlationID. It reports whether a
// requester was still waiting.
func (h *Hub) Reply(correlationID, from string, payload any) bool {
	h.mu.Lock()
	slot, ok := h.pending[correlationID]
	if ok {
		delete(h.pending, correlationID)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	env := Envelope{
		ID:            uuid.NewString(),
		From:          from,
		Payload:       payload,
		Priority:      PriorityNormal,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
	slot <- env
	return true
}

// CreateRegion creates an ACL-scoped key/value namespace. The owner is always
// in the ACL.
func (h *Hub) CreateRegion(name, owner string, acl []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrDestroyed
	}
	if _, ok := h.regions[name]; ok {
		return ErrRegionExists
	}
	r := &region{owner: owner, acl: make(map[string]struct{}, len(acl)), data: make(map[string]any)}
	for _, id := range acl {
		r.acl[id] = struct{}{}
	}
	h.regions[name] = r
	return nil
}

// ReadRegion returns the value for key, gated by the region ACL.
func (h *Hub) ReadRegion(name, key, readerID string) (any, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[name]
	if !ok {
		return nil, false, ErrUnknownRegion
	}
	if !r.allowed(readerID) {
		return nil, false, ErrNotInACL
	}
	v, ok := r.data[key]
	return v, ok, nil
}

// WriteRegion stores key=value; the writer must be in the region ACL.
func (h *Hub) WriteRegion(name, key string, value any, writerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.regions[name]
	if !ok {
		return ErrUnknownRegion
	}
	if !r.allowed(writerID) {
		return ErrNotInACL
	}
	r.data[key] = value
	return nil
}

// CreateBarrier registers a named barrier over a fixed participant set.
func (h *Hub) CreateBarrier(name string, participants []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrDestroyed
	}
	if _, ok := h.barriers[name]; ok {
		return ErrBarrierExists
	}
	b := &barrier{
		participants: make(map[string]struct{}, len(participants)),
		arrived:      make(map[string]struct{}),
		done:         make(chan struct{}),
		rejected:     make(chan struct{}),
	}
	for _, id := range participants {
		b.participants[id] = struct{}{}
	}
	h.barriers[name] = b
	return nil
}

// ArriveAtBarrier records the agent's arrival and blocks until every
// participant has arrived, the context is done, or the hub is destroyed.
func (h *Hub) ArriveAtBarrier(ctx context.Context, name, agentID string) error {
	h.mu.Lock()
	b, ok := h.barriers[name]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownBarrier
	}
	if _, ok := b.participants[agentID]; !ok {
		h.mu.Unlock()
		return ErrNotParticipant
	}
	b.arrived[agentID] = struct{}{}
	if len(b.arrived) == len(b.participants) {
		select {
		case <-b.done:
		default:
			close(b.done)
		}
	}
	h.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-b.rejected:
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateCollector registers a collector expecting results from the given
// number of distinct agents and returns its id.
func (h *Hub) CreateCollector(expected int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return "", ErrDestroyed
	}
	id := uuid.NewString()
	h.collectors[id] = &collector{
		expected: expected,
		results:  make(map[string]any),
		done:     make(chan struct{}),
		rejected: make(chan struct{}),
	}
	return id, nil
}

// SubmitResult records one agent's result. A repeat submission from the same
// agent overwrites without counting twice.
func (h *Hub) SubmitResult(id, from string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.collectors[id]
	if !ok {
		return ErrUnknownCollect
	}
	c.results[from] = value
	if len(c.results) >= c.expected {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	return nil
}

// WaitForAll blocks until the collector is full, then returns the results
// keyed by agent id. It fails on timeout, context cancellation, or destroy.
func (h *Hub) WaitForAll(ctx context.Context, id string, timeout time.Duration) (map[string]any, error) {
	h.mu.Lock()
	c, ok := h.collectors[id]
	h.mu.Unlock()
	if !ok {
		return nil, ErrUnknownCollect
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-c.rejected:
		return nil, ErrDestroyed
	case <-timer.C:
		return nil, fmt.Errorf("%w: collector %s incomplete after %s", ErrTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]any, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	delete(h.collectors, id)
	return out, nil
}

// Destroy rejects every pending request, barrier wait, and collector wait,
// then permanently disables the hub.
func (h *Hub) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.destroyed = true
	for id, slot := range h.pending {
		close(slot)
		delete(h.pending, id)
	}
	for _, b := range h.barriers {
		select {
		case <-b.rejected:
		default:
			close(b.rejected)
		}
	}
	for _, c := range h.collectors {
		select {
		case <-c.rejected:
		default:
			close(c.rejected)
		}
	}
	h.subs = make(map[string]map[string]Handler)
	h.barriers = make(map[string]*barrier)
	h.collectors = make(map[string]*collector)
	h.regions = make(map[string]*region)
}

// stamp fills generated envelope fields. Caller holds h.mu.
func (h *Hub) stamp(env *Envelope) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Priority == "" {
		env.Priority = PriorityNormal
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
}
