package entitysync

import "testing"

func newTestState(val int64) *simpleTrackable {
	return &simpleTrackable{intVal: val}
}

func TestServerSyncerTickAppliesInputAndBroadcasts(t *testing.T) {
	clock := NewVirtualClock(0)
	server := NewServerSyncer[*simpleTrackable, int64](1000, clock)

	entity := NewEntity[*simpleTrackable, int64]("e1", newTestState(0), Raw).
		WithInputApplier(func(s *simpleTrackable, in int64) *simpleTrackable {
			return &simpleTrackable{intVal: s.intVal + in}
		})
	server.AddEntity(entity, "alice")

	transport := NewInMemoryTransport[InputMessage[int64], StateMessage[*simpleTrackable]](clock)
	transport.Connect("alice", 0)
	server.Connect("alice", transport.ServerSide("alice"))

	clientBuf := transport.ClientSide("alice")
	clientBuf.Send(InputMessage[int64]{EntityID: "e1", Input: 5, InputSequenceNumber: 1})

	now := clock.Advance(50)
	server.Tick(now)

	if got := entity.State().intVal; got != 5 {
		t.Fatalf("entity state after tick = %d, want 5", got)
	}

	msgs := clientBuf.Receive()
	if len(msgs) != 1 {
		t.Fatalf("client received %d messages, want 1", len(msgs))
	}
	if msgs[0].Entity.ID != "e1" {
		t.Errorf("broadcast entity id = %q, want e1", msgs[0].Entity.ID)
	}
	if !msgs[0].Entity.BelongsToRecipientClient {
		t.Error("BelongsToRecipientClient should be true for the owning client")
	}
	if msgs[0].LastProcessedInputSequenceNumber != 1 {
		t.Errorf("ack = %d, want 1", msgs[0].LastProcessedInputSequenceNumber)
	}
}

func TestServerSyncerUnknownEntityHookFires(t *testing.T) {
	clock := NewVirtualClock(0)
	server := NewServerSyncer[*simpleTrackable, int64](1000, clock)

	transport := NewInMemoryTransport[InputMessage[int64], StateMessage[*simpleTrackable]](clock)
	transport.Connect("alice", 0)
	server.Connect("alice", transport.ServerSide("alice"))

	var unknownEntityID string
	server.SetHooks(ServerHooks[*simpleTrackable, int64]{
		OnUnknownEntity: func(clientID, entityID string) { unknownEntityID = entityID },
	})

	transport.ClientSide("alice").Send(InputMessage[int64]{EntityID: "ghost", Input: 1, InputSequenceNumber: 1})
	server.Tick(clock.Advance(50))

	if unknownEntityID != "ghost" {
		t.Errorf("OnUnknownEntity entityID = %q, want ghost", unknownEntityID)
	}
}

func TestServerSyncerInterestFilterRestrictsBroadcast(t *testing.T) {
	clock := NewVirtualClock(0)
	server := NewServerSyncer[*simpleTrackable, int64](1000, clock)

	hidden := NewEntity[*simpleTrackable, int64]("hidden", newTestState(0), Raw)
	visible := NewEntity[*simpleTrackable, int64]("visible", newTestState(0), Raw)
	server.AddEntity(hidden, "")
	server.AddEntity(visible, "")

	filter := NewInterestFilter[string]()
	filter.Add("alice", "only-visible", func(entityID string) bool { return entityID == "visible" })
	server.SetInterest(filter)

	transport := NewInMemoryTransport[InputMessage[int64], StateMessage[*simpleTrackable]](clock)
	transport.Connect("alice", 0)
	server.Connect("alice", transport.ServerSide("alice"))

	server.Tick(clock.Advance(50))

	msgs := transport.ClientSide("alice").Receive()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Entity.ID != "visible" {
		t.Errorf("broadcast entity = %q, want visible", msgs[0].Entity.ID)
	}
}

func TestServerSyncerStatusEffectsApplyBeforeHistory(t *testing.T) {
	clock := NewVirtualClock(0)
	server := NewServerSyncer[*simpleTrackable, int64](1000, clock)

	entity := NewEntity[*simpleTrackable, int64]("e1", newTestState(0), Raw)
	server.AddEntity(entity, "")

	server.StatusEffectsFor("e1").Add(NewStatusEffect[*simpleTrackable]("poison", func(s *simpleTrackable, source string) *simpleTrackable {
		return &simpleTrackable{intVal: s.intVal + 1}
	}))

	server.Tick(clock.Advance(50))
	server.Tick(clock.Advance(50))

	if got := entity.State().intVal; got != 2 {
		t.Fatalf("entity state after two ticks with poison effect = %d, want 2", got)
	}

	h := server.HistoryFor("e1")
	latest, ok := h.Latest()
	if !ok {
		t.Fatal("expected a recorded history entry")
	}
	if latest.State.intVal != 2 {
		t.Errorf("history recorded intVal = %d, want 2 (post-effect)", latest.State.intVal)
	}
}

func TestLagCompensatorResimulatesForwardPreservingTimestamps(t *testing.T) {
	h := NewHistory[*simpleTrackable](10000)
	h.Record(100, newTestState(10))
	h.Record(200, newTestState(20))
	h.Record(300, newTestState(30))

	compensator := NewLagCompensator[*simpleTrackable, int64](
		h,
		func(request int64, ctx LagCompensationContext[*simpleTrackable]) bool { return true },
		func(base *simpleTrackable, request int64) *simpleTrackable {
			return &simpleTrackable{intVal: base.intVal + request}
		},
		func(oldPrev, newPrev, oldCurrent *simpleTrackable) *simpleTrackable {
			delta := newPrev.intVal - oldPrev.intVal
			return &simpleTrackable{intVal: oldCurrent.intVal + delta}
		},
	)

	ok := compensator.ProcessRequest(LagCompensationRequest[int64]{EntityID: "e1", Timestamp: 100, Request: 5}, 80)
	if !ok {
		t.Fatal("ProcessRequest returned false, want true")
	}

	frames := h.Slice(100)
	want := []int64{15, 25, 35}
	for i, f := range frames {
		if f.Timestamp != int64(100+i*100) {
			t.Errorf("frame %d timestamp = %d, want %d", i, f.Timestamp, 100+i*100)
		}
		if f.State.intVal != want[i] {
			t.Errorf("frame %d intVal = %d, want %d", i, f.State.intVal, want[i])
		}
	}
}

func TestLagCompensatorRejectedRequestLeavesHistoryUntouched(t *testing.T) {
	h := NewHistory[*simpleTrackable](10000)
	h.Record(100, newTestState(10))

	compensator := NewLagCompensator[*simpleTrackable, int64](
		h,
		func(request int64, ctx LagCompensationContext[*simpleTrackable]) bool { return false },
		func(base *simpleTrackable, request int64) *simpleTrackable { return base },
		func(oldPrev, newPrev, oldCurrent *simpleTrackable) *simpleTrackable { return oldCurrent },
	)

	ok := compensator.ProcessRequest(LagCompensationRequest[int64]{EntityID: "e1", Timestamp: 100, Request: 5}, 80)
	if ok {
		t.Fatal("ProcessRequest returned true for a rejected request")
	}

	latest, _ := h.Latest()
	if latest.State.intVal != 10 {
		t.Errorf("history mutated despite rejected request: intVal = %d, want 10", latest.State.intVal)
	}
}

func TestLagCompensatorNoFramesAtOrAfterRequestReturnsFalse(t *testing.T) {
	h := NewHistory[*simpleTrackable](1000)
	h.Record(500, newTestState(1))

	compensator := NewLagCompensator[*simpleTrackable, int64](
		h,
		func(request int64, ctx LagCompensationContext[*simpleTrackable]) bool { return true },
		func(base *simpleTrackable, request int64) *simpleTrackable { return base },
		func(oldPrev, newPrev, oldCurrent *simpleTrackable) *simpleTrackable { return oldCurrent },
	)

	if compensator.ProcessRequest(LagCompensationRequest[int64]{EntityID: "e1", Timestamp: 600, Request: 1}, 50) {
		t.Error("expected ProcessRequest to fail when no retained frame is at or after the request timestamp")
	}
}

func TestServerSyncerRedactionAppliesOnlyToTargetedClient(t *testing.T) {
	clock := NewVirtualClock(0)
	server := NewServerSyncer[*simpleTrackable, int64](1000, clock)
	server.AddEntity(NewEntity[*simpleTrackable, int64]("e1", newTestState(99), Raw), "")

	server.Redactions().Add("alice", "hide-int", func(s *simpleTrackable) *simpleTrackable {
		return &simpleTrackable{intVal: 0}
	})

	aliceTransport := NewInMemoryTransport[InputMessage[int64], StateMessage[*simpleTrackable]](clock)
	aliceTransport.Connect("alice", 0)
	server.Connect("alice", aliceTransport.ServerSide("alice"))

	bobTransport := NewInMemoryTransport[InputMessage[int64], StateMessage[*simpleTrackable]](clock)
	bobTransport.Connect("bob", 0)
	server.Connect("bob", bobTransport.ServerSide("bob"))

	server.Tick(clock.Advance(50))

	aliceMsgs := aliceTransport.ClientSide("alice").Receive()
	if len(aliceMsgs) != 1 || aliceMsgs[0].Entity.State.intVal != 0 {
		t.Fatalf("alice should see a redacted state, got %+v", aliceMsgs)
	}

	bobMsgs := bobTransport.ClientSide("bob").Receive()
	if len(bobMsgs) != 1 || bobMsgs[0].Entity.State.intVal != 99 {
		t.Fatalf("bob should see the unredacted state, got %+v", bobMsgs)
	}
}
