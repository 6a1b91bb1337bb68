package entitysync

import "sync"

// EntityInput is one entity's input for the current collection cycle,
// returned by an InputCollectionStrategy.
type EntityInput[I any] struct {
	EntityID string
	Input    I
}

// InputCollectionStrategy is the collaborator named in §6: it turns elapsed
// time since the last collection into a batch of per-entity inputs. Pure
// with respect to elapsedMs; any device polling is the collaborator's
// problem, not the client syncer's.
type InputCollectionStrategy[I any] interface {
	GetInputs(elapsedMs int64) []EntityInput[I]
}

type stateBufEntry[S Trackable] struct {
	ReceivedAtMs int64
	State        S
}

// ClientSyncer is the client half of §4.D: prediction, reconciliation, and
// interpolation for one participant's view of the simulation. It generalizes
// the teacher's TrackedState — a single mutex-guarded current/base pair with
// locked Update/Get — into per-entity prediction against many entities
// bucketed by SyncStrategy.
type ClientSyncer[S Trackable, I any] struct {
	mu sync.Mutex

	clock              Clock
	serverUpdateRateHz float64
	transport          TwoWayBuffer[StateMessage[S], InputMessage[I]]
	handler            CheckedNewEntityHandler[S, I]
	inputStrategy      InputCollectionStrategy[I]

	entities        *EntityCollection[S, I]
	playerEntityIds map[string]bool
	pendingInputs   []InputMessage[I]
	stateBuffers    map[string][]stateBufEntry[S]

	currentInputSequenceNumber  uint64
	lastInputCollectionTs       int64
	haveLastInputCollectionTs   bool

	// OnSynchronized fires at the end of every Tick with a read-only view of
	// every known entity, the observation point named §6's EventEmitter
	// covers for the "synchronized" event.
	OnSynchronized func(entities map[string]*FuncEntity[S, I])

	runner IntervalRunner
}

// NewClientSyncer constructs a client syncer. serverUpdateRateHz is used to
// compute the interpolation render timestamp (§4.D.4); it need not match
// this client's own tick rate.
func NewClientSyncer[S Trackable, I any](
	handler NewEntityHandler[S, I],
	inputStrategy InputCollectionStrategy[I],
	transport TwoWayBuffer[StateMessage[S], InputMessage[I]],
	serverUpdateRateHz float64,
	clock Clock,
) *ClientSyncer[S, I] {
	return &ClientSyncer[S, I]{
		clock:              clock,
		serverUpdateRateHz: serverUpdateRateHz,
		transport:          transport,
		handler:            CheckedNewEntityHandler[S, I]{Handler: handler},
		inputStrategy:      inputStrategy,
		entities:           NewEntityCollection[S, I](),
		playerEntityIds:    make(map[string]bool),
		stateBuffers:       make(map[string][]stateBufEntry[S]),
	}
}

// Entities returns the client's local entity collection.
func (c *ClientSyncer[S, I]) Entities() *EntityCollection[S, I] {
	return c.entities
}

// IsOwned reports whether entityID belongs to this client's local player.
func (c *ClientSyncer[S, I]) IsOwned(entityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerEntityIds[entityID]
}

// PendingInputCount reports the number of locally predicted inputs not yet
// acknowledged by the server, for tests asserting invariant 1 of §8.
func (c *ClientSyncer[S, I]) PendingInputCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pendingInputs)
}

// Tick runs one iteration of the §4.D.0 per-tick sequence. It is exposed as
// a pure function of nowMs for tests; Start/Stop wrap it in an
// IntervalRunner for production use.
func (c *ClientSyncer[S, I]) Tick(nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processServerMessages(nowMs)

	if c.entities.Len() == 0 {
		return
	}

	c.processInputs(nowMs)
	c.interpolateEntities(nowMs)

	if c.OnSynchronized != nil {
		c.OnSynchronized(c.entities.AsIDKeyedMap())
	}
}

// processServerMessages implements §4.D.1. Reconciliation (§4.D.2) runs once
// per call rather than once per message, so reapplying pending input
// mid-batch cannot double-predict entities adopted earlier in the loop. The
// server acknowledges per entity, so messages in one drained batch can carry
// different lastProcessedInputSequenceNumbers (an entity with no recent input
// keeps an older ack). Because the server drains each client's input in FIFO
// order, the highest ack seen covers every input it has applied, and that
// is the one used.
func (c *ClientSyncer[S, I]) processServerMessages(nowMs int64) {
	messages := c.transport.Receive()
	if len(messages) == 0 {
		return
	}

	var ack uint64
	var haveAck bool

	for _, msg := range messages {
		if !c.entities.Has(msg.Entity.ID) {
			if msg.Entity.BelongsToRecipientClient {
				e := c.handler.CreateLocalEntityFromStateMessage(msg)
				c.entities.Add(e)
				c.playerEntityIds[msg.Entity.ID] = true
			} else {
				e, strategy := c.handler.CreateNonLocalEntityFromStateMessage(msg)
				c.entities.Add(e)
				if strategy == Interpolation {
					c.stateBuffers[msg.Entity.ID] = nil
				}
			}
		}

		e := c.entities.Get(msg.Entity.ID)

		if c.playerEntityIds[e.ID()] {
			e.SetState(msg.Entity.State)
			if !haveAck || msg.LastProcessedInputSequenceNumber > ack {
				ack = msg.LastProcessedInputSequenceNumber
			}
			haveAck = true
			continue
		}

		switch e.SyncStrategy() {
		case Raw:
			e.SetState(msg.Entity.State)
		case DeadReckoning:
			e.SetState(msg.Entity.State)
			e.SetState(e.Reckon(nowMs - msg.TimestampMs))
		case Interpolation:
			c.stateBuffers[e.ID()] = append(c.stateBuffers[e.ID()], stateBufEntry[S]{
				ReceivedAtMs: nowMs,
				State:        msg.Entity.State,
			})
		}
	}

	if haveAck {
		c.reconcile(ack)
	}
}

// reconcile implements §4.D.2: drop every acknowledged pending input, then
// replay the remainder, in sequence order, against whichever entity each
// targets.
func (c *ClientSyncer[S, I]) reconcile(ack uint64) {
	kept := c.pendingInputs[:0]
	for _, in := range c.pendingInputs {
		if in.InputSequenceNumber > ack {
			kept = append(kept, in)
		}
	}
	c.pendingInputs = kept

	for _, in := range c.pendingInputs {
		if e := c.entities.Get(in.EntityID); e != nil {
			e.SetState(e.ApplyInput(in.Input))
		}
	}
}

// processInputs implements §4.D.3: collect this tick's inputs, predict
// locally, send to the server, and remember them as unacknowledged.
func (c *ClientSyncer[S, I]) processInputs(nowMs int64) {
	lastTs := nowMs
	if c.haveLastInputCollectionTs {
		lastTs = c.lastInputCollectionTs
	}
	elapsed := nowMs - lastTs
	c.lastInputCollectionTs = nowMs
	c.haveLastInputCollectionTs = true

	inputs := c.inputStrategy.GetInputs(elapsed)
	if len(inputs) == 0 {
		return
	}

	seq := c.currentInputSequenceNumber
	msgs := make([]InputMessage[I], 0, len(inputs))
	for _, in := range inputs {
		msg := InputMessage[I]{EntityID: in.EntityID, Input: in.Input, InputSequenceNumber: seq}
		msgs = append(msgs, msg)
		if e := c.entities.Get(in.EntityID); e != nil {
			e.SetState(e.ApplyInput(in.Input))
		}
		c.pendingInputs = append(c.pendingInputs, msg)
	}
	c.transport.Send(msgs...)
	c.currentInputSequenceNumber++
}

// interpolateEntities implements §4.D.4/§4.D.5: render every non-owned
// Interpolation-strategy entity at renderTs by blending the two buffered
// snapshots bracketing it. Locally owned entities are never interpolated;
// an entity with fewer than two buffered snapshots keeps its current state.
func (c *ClientSyncer[S, I]) interpolateEntities(nowMs int64) {
	renderTs := nowMs - int64(1000/c.serverUpdateRateHz)

	for _, e := range c.entities.Interpolatable() {
		if c.playerEntityIds[e.ID()] {
			continue
		}

		buf := c.stateBuffers[e.ID()]
		for len(buf) >= 2 && buf[1].ReceivedAtMs <= renderTs {
			buf = buf[1:]
		}
		c.stateBuffers[e.ID()] = buf

		if len(buf) >= 2 && buf[0].ReceivedAtMs <= renderTs && renderTs <= buf[1].ReceivedAtMs {
			span := buf[1].ReceivedAtMs - buf[0].ReceivedAtMs
			ratio := float64(renderTs-buf[0].ReceivedAtMs) / float64(span)
			e.SetState(e.Interpolate(buf[0].State, buf[1].State, ratio))
		}
	}
}

// Start begins ticking at the given interval using clock for timestamps.
func (c *ClientSyncer[S, I]) Start(interval Interval) {
	c.mu.Lock()
	c.runner = NewTickerRunner(c.Tick, interval, c.clock)
	runner := c.runner
	c.mu.Unlock()
	runner.Start()
}

// Stop halts the runner started by Start; an in-flight tick completes.
func (c *ClientSyncer[S, I]) Stop() {
	c.mu.Lock()
	runner := c.runner
	c.mu.Unlock()
	if runner != nil {
		runner.Stop()
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (c *ClientSyncer[S, I]) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner != nil && c.runner.IsRunning()
}
