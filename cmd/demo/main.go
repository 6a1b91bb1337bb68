// Command demo wires a server and a client together over the in-memory
// transport and runs a few ticks of client-side prediction and server
// reconciliation for a single moving entity, logging the hero's position on
// every client tick once the first snapshot has arrived. It exists to exercise the package end to end, the way the teacher
// repo's example/main.go walked through TrackedState/TrackedSession.
package main

import (
	"fmt"

	"github.com/mxkacsa/entitysync"
)

// PlayerState is an entity's State: four float64 fields, a 2D position and
// velocity. Trackable requires no methods, so it's a plain value struct.
type PlayerState struct {
	X, Y   float64
	VX, VY float64
}

func newPlayerState(x, y float64) *PlayerState {
	return &PlayerState{X: x, Y: y}
}

func (p *PlayerState) clone() *PlayerState {
	return &PlayerState{X: p.X, Y: p.Y, VX: p.VX, VY: p.VY}
}

// MoveInput is the per-tick command a player sends: the direction held.
type MoveInput struct {
	DX, DY float64
}

func applyMove(state *PlayerState, input MoveInput) *PlayerState {
	next := state.clone()
	next.VX, next.VY = input.DX, input.DY
	next.X += input.DX
	next.Y += input.DY
	return next
}

func interpolatePlayer(a, b *PlayerState, ratio float64) *PlayerState {
	next := a.clone()
	next.X = a.X + (b.X-a.X)*ratio
	next.Y = a.Y + (b.Y-a.Y)*ratio
	return next
}

func reckonPlayer(state *PlayerState, elapsedMs int64) *PlayerState {
	next := state.clone()
	seconds := float64(elapsedMs) / 1000
	next.X += state.VX * seconds
	next.Y += state.VY * seconds
	return next
}

// demoHandler constructs entities for both sides of the wire. The local
// player is always "hero"; anything else is a remote, dead-reckoned entity.
type demoHandler struct{}

func (demoHandler) CreateLocalEntityFromStateMessage(msg entitysync.StateMessage[*PlayerState]) *entitysync.FuncEntity[*PlayerState, MoveInput] {
	return entitysync.NewEntity[*PlayerState, MoveInput](msg.Entity.ID, msg.Entity.State, entitysync.Raw).
		WithInputApplier(applyMove)
}

func (demoHandler) CreateNonLocalEntityFromStateMessage(msg entitysync.StateMessage[*PlayerState]) (*entitysync.FuncEntity[*PlayerState, MoveInput], entitysync.SyncStrategy) {
	e := entitysync.NewEntity[*PlayerState, MoveInput](msg.Entity.ID, msg.Entity.State, entitysync.DeadReckoning).
		WithReckoner(reckonPlayer)
	return e, entitysync.DeadReckoning
}

// fixedInput is an InputCollectionStrategy that always moves the hero
// one unit right per collection cycle, standing in for real device polling.
type fixedInput struct{}

func (fixedInput) GetInputs(elapsedMs int64) []entitysync.EntityInput[MoveInput] {
	return []entitysync.EntityInput[MoveInput]{{EntityID: "hero", Input: MoveInput{DX: 1, DY: 0}}}
}

func main() {
	logger := entitysync.NewLogger("info", "pretty")
	clock := entitysync.NewVirtualClock(0)

	transport := entitysync.NewInMemoryTransport[entitysync.InputMessage[MoveInput], entitysync.StateMessage[*PlayerState]](clock)
	transport.Connect("hero-client", 50)

	server := entitysync.NewServerSyncer[*PlayerState, MoveInput](1000, clock)
	server.AddEntity(
		entitysync.NewEntity[*PlayerState, MoveInput]("hero", newPlayerState(0, 0), entitysync.Raw).WithInputApplier(applyMove),
		"hero-client",
	)
	server.Connect("hero-client", transport.ServerSide("hero-client"))

	client := entitysync.NewClientSyncer[*PlayerState, MoveInput](
		demoHandler{}, fixedInput{}, transport.ClientSide("hero-client"), 20, clock)
	client.OnSynchronized = func(entities map[string]*entitysync.FuncEntity[*PlayerState, MoveInput]) {
		if hero := entities["hero"]; hero != nil {
			logger.Info().Float64("x", hero.State().X).Float64("y", hero.State().Y).Msg("synchronized")
		}
	}

	for tick := 0; tick < 5; tick++ {
		now := clock.Advance(50)
		server.Tick(now)
		client.Tick(now)
	}

	fmt.Println("done")
}
