package entitysync

import (
	"sync"
	"sync/atomic"
)

// MessageKind discriminates InputMessage from StateMessage so both can be
// routed through a single typed channel.
type MessageKind uint8

const (
	KindInput MessageKind = iota
	KindState
)

// InputMessage is a client's per-tick command for one entity. Sequence
// numbers are assigned per client-input-collection-batch (not per message)
// and are strictly non-decreasing within that client.
type InputMessage[I any] struct {
	EntityID            string
	Input               I
	InputSequenceNumber uint64
}

// Kind implements the routing discriminator.
func (InputMessage[I]) Kind() MessageKind { return KindInput }

// StateEntity is the per-entity payload nested in a StateMessage.
type StateEntity[S Trackable] struct {
	ID                       string
	State                    S
	BelongsToRecipientClient bool
}

// StateMessage carries one entity's authoritative snapshot, together with
// the server's record of how much of that recipient's input stream it has
// applied.
type StateMessage[S Trackable] struct {
	Entity                            StateEntity[S]
	LastProcessedInputSequenceNumber  uint64
	TimestampMs                       int64
}

// Kind implements the routing discriminator.
func (StateMessage[S]) Kind() MessageKind { return KindState }

// TwoWayBuffer is the transport contract consumed by both client and server
// endpoints. Send never blocks; Receive drains every message whose ready
// time has passed, in the order it was sent (per-sender FIFO), and stops at
// the first not-yet-ready message — batches behind it stay queued even if
// their own ready time has elapsed, preserving head-of-line ordering. Real
// transports substituted for the in-memory one must preserve this per-sender
// FIFO property or client reconciliation breaks.
type TwoWayBuffer[Recv, Send any] interface {
	Send(messages ...Send)
	Receive() []Recv
}

// pendingBatch is one Send call's worth of messages, gated by readyAtMs.
// Every batch sits in exactly one queue (Broadcast builds a separate batch
// per recipient), so refCount starts at 1 and drops to 0 when the batch is
// drained. Nothing in the core reads it.
type pendingBatch[T any] struct {
	readyAtMs int64
	messages  []T
	refCount  atomic.Int32
}

// messageQueue is a single-direction, ready-time-gated FIFO. It mirrors the
// teacher's EventBuffer shape — mutex-guarded slice, atomic fast-path
// count — retargeted from "drain everything now" fan-out delivery to
// ordered, partially-ready batch delivery with head-of-line blocking.
type messageQueue[T any] struct {
	mu      sync.Mutex
	clock   Clock
	pending []*pendingBatch[T]
	count   atomic.Int32
}

func newMessageQueue[T any](clock Clock) *messageQueue[T] {
	return &messageQueue[T]{clock: clock}
}

func (q *messageQueue[T]) enqueue(batch *pendingBatch[T]) {
	q.mu.Lock()
	q.pending = append(q.pending, batch)
	q.count.Store(int32(len(q.pending)))
	q.mu.Unlock()
}

// drain returns all messages from batches whose readyAtMs has passed, in
// FIFO order, stopping at the first batch that is not yet ready.
func (q *messageQueue[T]) drain() []T {
	if q.count.Load() == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.NowMs()
	ready := 0
	for ready < len(q.pending) && q.pending[ready].readyAtMs <= now {
		ready++
	}
	if ready == 0 {
		return nil
	}

	var result []T
	for i := 0; i < ready; i++ {
		result = append(result, q.pending[i].messages...)
		q.pending[i].refCount.Add(-1)
	}

	copy(q.pending, q.pending[ready:])
	q.pending = q.pending[:len(q.pending)-ready]
	q.count.Store(int32(len(q.pending)))
	return result
}

// clientSlot holds the pair of queues for one connected client.
type clientSlot[CtoS, StoC any] struct {
	toServer *messageQueue[CtoS]
	toClient *messageQueue[StoC]
	lagMs    int64
}

// InMemoryTransport is the in-memory testing collaborator named in §4.B: a
// pair of per-client-slot queues with configurable per-message latency. It
// is not the core value of the system, but its contract is specified so a
// real transport (see the wsnet subpackage) can be substituted behind the
// same TwoWayBuffer interface.
type InMemoryTransport[CtoS, StoC any] struct {
	mu      sync.RWMutex
	clock   Clock
	clients map[string]*clientSlot[CtoS, StoC]

	// OnClientSent and OnServerSent fire synchronously on Send, mirroring
	// the clientSentMessages/serverSentMessages events named in §4.B.
	OnClientSent func(clientID string, batch []CtoS)
	OnServerSent func(clientID string, batch []StoC)
}

// NewInMemoryTransport creates a transport using clock for ready-time gating.
func NewInMemoryTransport[CtoS, StoC any](clock Clock) *InMemoryTransport[CtoS, StoC] {
	return &InMemoryTransport[CtoS, StoC]{
		clock:   clock,
		clients: make(map[string]*clientSlot[CtoS, StoC]),
	}
}

// Connect registers a client slot with the given one-way latency, applied
// symmetrically to both directions.
func (t *InMemoryTransport[CtoS, StoC]) Connect(clientID string, lagMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[clientID] = &clientSlot[CtoS, StoC]{
		toServer: newMessageQueue[CtoS](t.clock),
		toClient: newMessageQueue[StoC](t.clock),
		lagMs:    lagMs,
	}
}

// Disconnect removes a client slot and drops any queued messages for it.
func (t *InMemoryTransport[CtoS, StoC]) Disconnect(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, clientID)
}

func (t *InMemoryTransport[CtoS, StoC]) slot(clientID string) *clientSlot[CtoS, StoC] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients[clientID]
}

// ClientSide returns the TwoWayBuffer view used by the client with the given
// id: Send enqueues into the client->server queue, Receive drains the
// server->client queue.
func (t *InMemoryTransport[CtoS, StoC]) ClientSide(clientID string) TwoWayBuffer[StoC, CtoS] {
	return &clientEndpoint[CtoS, StoC]{transport: t, clientID: clientID}
}

// ServerSide returns the TwoWayBuffer view used by the server for the given
// client id: Send enqueues into the server->client queue, Receive drains the
// client->server queue.
func (t *InMemoryTransport[CtoS, StoC]) ServerSide(clientID string) TwoWayBuffer[CtoS, StoC] {
	return &serverEndpoint[CtoS, StoC]{transport: t, clientID: clientID}
}

// Broadcast sends the same messages to every currently connected client's
// server->client queue, one pendingBatch per recipient so each can be
// drained and evicted independently.
func (t *InMemoryTransport[CtoS, StoC]) Broadcast(messages []StoC) {
	t.mu.RLock()
	ids := make([]string, 0, len(t.clients))
	slots := make([]*clientSlot[CtoS, StoC], 0, len(t.clients))
	for id, slot := range t.clients {
		ids = append(ids, id)
		slots = append(slots, slot)
	}
	t.mu.RUnlock()

	if len(slots) == 0 {
		return
	}

	for i, slot := range slots {
		batch := &pendingBatch[StoC]{
			readyAtMs: t.clock.NowMs() + slot.lagMs,
			messages:  messages,
		}
		batch.refCount.Store(1)
		slot.toClient.enqueue(batch)
		if t.OnServerSent != nil {
			t.OnServerSent(ids[i], messages)
		}
	}
}

type clientEndpoint[CtoS, StoC any] struct {
	transport *InMemoryTransport[CtoS, StoC]
	clientID  string
}

func (e *clientEndpoint[CtoS, StoC]) Send(messages ...CtoS) {
	slot := e.transport.slot(e.clientID)
	if slot == nil {
		panic(&SendBeforeConnectError{ClientID: e.clientID})
	}
	batch := &pendingBatch[CtoS]{
		readyAtMs: e.transport.clock.NowMs() + slot.lagMs,
		messages:  messages,
	}
	batch.refCount.Store(1)
	slot.toServer.enqueue(batch)
	if e.transport.OnClientSent != nil {
		e.transport.OnClientSent(e.clientID, messages)
	}
}

func (e *clientEndpoint[CtoS, StoC]) Receive() []StoC {
	slot := e.transport.slot(e.clientID)
	if slot == nil {
		return nil
	}
	return slot.toClient.drain()
}

type serverEndpoint[CtoS, StoC any] struct {
	transport *InMemoryTransport[CtoS, StoC]
	clientID  string
}

func (e *serverEndpoint[CtoS, StoC]) Send(messages ...StoC) {
	slot := e.transport.slot(e.clientID)
	if slot == nil {
		panic(&SendBeforeConnectError{ClientID: e.clientID})
	}
	batch := &pendingBatch[StoC]{
		readyAtMs: e.transport.clock.NowMs() + slot.lagMs,
		messages:  messages,
	}
	batch.refCount.Store(1)
	slot.toClient.enqueue(batch)
	if e.transport.OnServerSent != nil {
		e.transport.OnServerSent(e.clientID, messages)
	}
}

func (e *serverEndpoint[CtoS, StoC]) Receive() []CtoS {
	slot := e.transport.slot(e.clientID)
	if slot == nil {
		return nil
	}
	return slot.toServer.drain()
}
