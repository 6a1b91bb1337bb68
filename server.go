package entitysync

import "sync"

// ServerHooks are optional lifecycle callbacks, mirroring the teacher's
// SessionHooks on TrackedSession: observation points a caller can hang
// metrics or logging off without reaching into the tick loop itself.
type ServerHooks[S Trackable, I any] struct {
	// OnUnknownEntity fires when a drained InputMessage names an entity the
	// server doesn't know about. The input is dropped; this is the only
	// error condition the tick loop survives (§7: UnknownEntity is non-fatal).
	OnUnknownEntity func(clientID, entityID string)
	// OnBeforeBroadcast fires once per tick after snapshotting, before any
	// StateMessage is sent.
	OnBeforeBroadcast func(nowMs int64)
	// OnAfterBroadcast fires once per tick after every connected client has
	// been sent its batch.
	OnAfterBroadcast func(nowMs int64)
}

// ServerSyncer is the server half of §4.C: it owns the authoritative
// EntityCollection, applies drained client input in received order, snapshots
// every entity into its own History after each tick, and broadcasts one
// StateMessage per (client, entity) pair reachable from that client. It
// generalizes the teacher's TrackedSession — broadcast, per-client session
// bookkeeping, Tick — from "one shared Trackable T" to "many independently
// addressable entities."
type ServerSyncer[S Trackable, I any] struct {
	mu    sync.RWMutex
	clock Clock

	entities        *EntityCollection[S, I]
	histories       map[string]*History[S]
	historyWindowMs int64
	owners          map[string]string // entityID -> owning clientID, "" if unowned

	clients       map[string]TwoWayBuffer[InputMessage[I], StateMessage[S]]
	lastProcessed map[string]map[string]uint64 // clientID -> entityID -> seq

	statusEffects map[string]*StatusEffectSet[S] // entityID -> active effects

	interest   *InterestFilter[string]
	redactions *RedactionRegistry[S]
	hooks      ServerHooks[S, I]
	runner     IntervalRunner
}

// NewServerSyncer creates a server syncer whose per-entity History windows
// are historyWindowMs wide, using clock for tick timestamps.
func NewServerSyncer[S Trackable, I any](historyWindowMs int64, clock Clock) *ServerSyncer[S, I] {
	return &ServerSyncer[S, I]{
		clock:           clock,
		entities:        NewEntityCollection[S, I](),
		histories:       make(map[string]*History[S]),
		historyWindowMs: historyWindowMs,
		owners:          make(map[string]string),
		clients:         make(map[string]TwoWayBuffer[InputMessage[I], StateMessage[S]]),
		lastProcessed:   make(map[string]map[string]uint64),
		statusEffects:   make(map[string]*StatusEffectSet[S]),
	}
}

// StatusEffectsFor returns entityID's status effect set, creating one on
// first use. Attach effects to it to have them applied every tick between
// input application and history recording.
func (s *ServerSyncer[S, I]) StatusEffectsFor(entityID string) *StatusEffectSet[S] {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.statusEffects[entityID]
	if !ok {
		set = NewStatusEffectSet[S]()
		s.statusEffects[entityID] = set
	}
	return set
}

// SetHooks installs lifecycle callbacks.
func (s *ServerSyncer[S, I]) SetHooks(hooks ServerHooks[S, I]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = hooks
}

// SetInterest installs an optional per-client relevance filter. A nil filter
// (the default) reaches every connected client with every entity, which is
// spec.md's bare behavior.
func (s *ServerSyncer[S, I]) SetInterest(filter *InterestFilter[string]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interest = filter
}

// Redactions returns the per-client state redaction registry, creating one on
// first use. Unlike InterestFilter (which decides whether an entity is sent
// at all), a registered RedactionFunc here runs on an entity's State just
// before it's placed in the StateMessage sent to that client — e.g. to blank
// out another player's hidden inventory or hand. Redactions never touch the
// authoritative copy in EntityCollection, only the outgoing snapshot.
func (s *ServerSyncer[S, I]) Redactions() *RedactionRegistry[S] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redactions == nil {
		s.redactions = NewRedactionRegistry[S]()
	}
	return s.redactions
}

// AddEntity registers an entity and gives it its own History. ownerClientID
// may be "" for an entity no client owns (server-driven or environmental).
func (s *ServerSyncer[S, I]) AddEntity(e *FuncEntity[S, I], ownerClientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities.Add(e)
	s.histories[e.ID()] = NewHistory[S](s.historyWindowMs)
	if ownerClientID != "" {
		s.owners[e.ID()] = ownerClientID
	}
}

// Entities returns the authoritative collection, for read access by tests
// and by the opaque server-driven simulation step.
func (s *ServerSyncer[S, I]) Entities() *EntityCollection[S, I] {
	return s.entities
}

// HistoryFor returns the History recording entityID's authoritative states,
// for use by a LagCompensator. Returns nil for an unknown entity.
func (s *ServerSyncer[S, I]) HistoryFor(entityID string) *History[S] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.histories[entityID]
}

// Connect registers a client's transport endpoint.
func (s *ServerSyncer[S, I]) Connect(clientID string, buf TwoWayBuffer[InputMessage[I], StateMessage[S]]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = buf
	s.lastProcessed[clientID] = make(map[string]uint64)
}

// Disconnect removes a client's transport endpoint and acknowledgement state.
func (s *ServerSyncer[S, I]) Disconnect(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	delete(s.lastProcessed, clientID)
}

// ClientCount reports how many clients are connected.
func (s *ServerSyncer[S, I]) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Tick runs one iteration of the loop in §4.C: drain inputs, snapshot,
// broadcast. It is exposed as a pure function of nowMs so tests can drive it
// without an IntervalRunner; Start/Stop wrap it in one for production use.
func (s *ServerSyncer[S, I]) Tick(nowMs int64) {
	s.mu.RLock()
	clientIDs := make([]string, 0, len(s.clients))
	for id := range s.clients {
		clientIDs = append(clientIDs, id)
	}
	s.mu.RUnlock()

	// 1. Drain and apply input, per-client FIFO, cross-client order is
	// whichever order clientIDs iterates in (implementation-defined per §5).
	for _, clientID := range clientIDs {
		s.mu.RLock()
		buf := s.clients[clientID]
		s.mu.RUnlock()
		if buf == nil {
			continue
		}
		for _, msg := range buf.Receive() {
			entity := s.entities.Get(msg.EntityID)
			if entity == nil {
				s.mu.RLock()
				onUnknown := s.hooks.OnUnknownEntity
				s.mu.RUnlock()
				if onUnknown != nil {
					onUnknown(clientID, msg.EntityID)
				}
				continue
			}
			entity.SetState(entity.ApplyInput(msg.Input))
			s.mu.Lock()
			if s.lastProcessed[clientID] == nil {
				s.lastProcessed[clientID] = make(map[string]uint64)
			}
			s.lastProcessed[clientID][msg.EntityID] = msg.InputSequenceNumber
			s.mu.Unlock()
		}
	}

	// 2. Server-driven simulation (opaque) is the caller's responsibility,
	// run between draining input and this snapshot step if needed.

	// 3. Apply any active status effects, then snapshot every entity into its
	// own History.
	for _, e := range s.entities.Iter() {
		s.mu.RLock()
		effects := s.statusEffects[e.ID()]
		h := s.histories[e.ID()]
		s.mu.RUnlock()
		if effects != nil && effects.Count() > 0 {
			e.SetState(effects.Apply(e.State()))
		}
		if h != nil {
			h.Record(nowMs, e.State())
		}
	}

	s.mu.RLock()
	onBefore := s.hooks.OnBeforeBroadcast
	onAfter := s.hooks.OnAfterBroadcast
	s.mu.RUnlock()
	if onBefore != nil {
		onBefore(nowMs)
	}

	// 4. Broadcast one StateMessage per (client, entity) pair reachable from
	// that client.
	entities := s.entities.Iter()
	for _, clientID := range clientIDs {
		s.mu.RLock()
		buf := s.clients[clientID]
		acked := s.lastProcessed[clientID]
		filter := s.interest
		redactions := s.redactions
		s.mu.RUnlock()
		if buf == nil {
			continue
		}

		var redact RedactionFunc[S]
		if redactions != nil {
			redact = redactions.Compose(clientID)
		}

		batch := make([]StateMessage[S], 0, len(entities))
		for _, e := range entities {
			if filter != nil && !filter.IsRelevant(clientID, e.ID()) {
				continue
			}
			s.mu.RLock()
			belongsTo := s.owners[e.ID()] == clientID
			s.mu.RUnlock()
			state := e.State()
			if redact != nil {
				state = redact(state)
			}
			batch = append(batch, StateMessage[S]{
				Entity: StateEntity[S]{
					ID:                       e.ID(),
					State:                    state,
					BelongsToRecipientClient: belongsTo,
				},
				LastProcessedInputSequenceNumber: acked[e.ID()],
				TimestampMs:                      nowMs,
			})
		}
		if len(batch) > 0 {
			buf.Send(batch...)
		}
	}

	if onAfter != nil {
		onAfter(nowMs)
	}
}

// Start begins ticking at the given interval using clock for timestamps.
func (s *ServerSyncer[S, I]) Start(interval Interval) {
	s.mu.Lock()
	s.runner = NewTickerRunner(s.Tick, interval, s.clock)
	runner := s.runner
	s.mu.Unlock()
	runner.Start()
}

// Stop halts the runner started by Start; an in-flight tick completes.
func (s *ServerSyncer[S, I]) Stop() {
	s.mu.RLock()
	runner := s.runner
	s.mu.RUnlock()
	if runner != nil {
		runner.Stop()
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *ServerSyncer[S, I]) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runner != nil && s.runner.IsRunning()
}

// LagCompensationContext is passed to a RequestValidator so it can judge a
// request against the server's own record and the requesting client's
// measured latency.
type LagCompensationContext[S Trackable] struct {
	ServerHistory   *History[S]
	ClientLatencyMs int64
}

// LagCompensationRequest carries a delayed client action to be folded into
// history at the time the client perceived it happening.
type LagCompensationRequest[R any] struct {
	EntityID  string
	Timestamp int64
	Request   R
}

// RequestValidator judges whether a lag-compensation request should be
// honored at all (e.g. within a plausibility window, entity still alive).
type RequestValidator[S Trackable, R any] func(request R, ctx LagCompensationContext[S]) bool

// RequestApplicator computes the post-request state from the historical base
// state the request targeted. Must be pure.
type RequestApplicator[S Trackable, R any] func(base S, request R) S

// Resimmer recomputes one step of history after an earlier step changed,
// given the old and new previous-step states and the old current-step state.
// Must be pure with respect to its three inputs.
type Resimmer[S Trackable] func(oldPrevious, newPrevious, oldCurrent S) S

// LagCompensator implements the §4.C resimulation algorithm against one
// entity's History. Construct one per entity kind that accepts
// lag-compensated actions (e.g. hit-scan weapons); it is independent of
// ServerSyncer so it can be tested in isolation.
type LagCompensator[S Trackable, R any] struct {
	history    *History[S]
	validate   RequestValidator[S, R]
	applicator RequestApplicator[S, R]
	resim      Resimmer[S]
}

// NewLagCompensator binds a compensator to a specific entity's History.
func NewLagCompensator[S Trackable, R any](history *History[S], validate RequestValidator[S, R], applicator RequestApplicator[S, R], resim Resimmer[S]) *LagCompensator[S, R] {
	return &LagCompensator[S, R]{history: history, validate: validate, applicator: applicator, resim: resim}
}

// ProcessRequest runs the algorithm in §4.C: locate the historical frames at
// or after request.Timestamp, validate, apply the request to the oldest of
// them, then resimulate every subsequent frame forward preserving its
// timestamp. Returns false, leaving history untouched, if the request falls
// outside the retained window or fails validation. frames.length == 1 is the
// edge case where only the rewritten base exists; the resimulation loop does
// not run.
func (c *LagCompensator[S, R]) ProcessRequest(req LagCompensationRequest[R], clientLatencyMs int64) bool {
	frames := c.history.Slice(req.Timestamp)
	if len(frames) == 0 {
		return false
	}

	ctx := LagCompensationContext[S]{ServerHistory: c.history, ClientLatencyMs: clientLatencyMs}
	if !c.validate(req.Request, ctx) {
		return false
	}

	newHistory := make([]HistoryEntry[S], len(frames))
	newHistory[0] = HistoryEntry[S]{
		Timestamp: frames[0].Timestamp,
		State:     c.applicator(frames[0].State, req.Request),
	}
	for i := 1; i < len(frames); i++ {
		newHistory[i] = HistoryEntry[S]{
			Timestamp: frames[i].Timestamp,
			State:     c.resim(frames[i-1].State, newHistory[i-1].State, frames[i].State),
		}
	}

	for _, entry := range newHistory {
		c.history.Rewrite(entry.Timestamp, entry.State)
	}
	return true
}
