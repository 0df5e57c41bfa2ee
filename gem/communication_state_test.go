package gem

import "testing"

func requireCommState(t *testing.T, sm *commStateMachine, want CommunicationState) {
	t.Helper()
	if got := sm.State(); got != want {
		t.Fatalf("unexpected communication state: got %s, want %s", got, want)
	}
}

func TestCommStateMachineHandshakeCycle(t *testing.T) {
	sm := newCommStateMachine(nil)
	requireCommState(t, sm, CommunicationStateNotCommunicating)

	if err := sm.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	requireCommState(t, sm, CommunicationStateWaitCRA)

	if err := sm.Denied(); err != nil {
		t.Fatalf("denied: %v", err)
	}
	requireCommState(t, sm, CommunicationStateWaitDelay)

	if err := sm.DelayExpired(); err != nil {
		t.Fatalf("delay expired: %v", err)
	}
	requireCommState(t, sm, CommunicationStateNotCommunicating)

	if err := sm.Initiate(); err != nil {
		t.Fatalf("re-initiate: %v", err)
	}
	if err := sm.Accepted(); err != nil {
		t.Fatalf("accepted: %v", err)
	}
	requireCommState(t, sm, CommunicationStateCommunicating)
}

func TestCommStateMachineReplyTimeout(t *testing.T) {
	sm := newCommStateMachine(nil)

	if err := sm.Initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := sm.ReplyTimeout(); err != nil {
		t.Fatalf("reply timeout: %v", err)
	}
	requireCommState(t, sm, CommunicationStateWaitDelay)
}

func TestCommStateMachinePeerEstablishedFromAnyState(t *testing.T) {
	for _, setup := range []func(*commStateMachine){
		func(_ *commStateMachine) {},
		func(sm *commStateMachine) { _ = sm.Initiate() },
		func(sm *commStateMachine) { _ = sm.Initiate(); _ = sm.Denied() },
	} {
		sm := newCommStateMachine(nil)
		setup(sm)
		if err := sm.PeerEstablished(); err != nil {
			t.Fatalf("peer established from %s: %v", sm.State(), err)
		}
		requireCommState(t, sm, CommunicationStateCommunicating)

		// Repeating while COMMUNICATING is not a failure.
		if err := sm.PeerEstablished(); err != nil {
			t.Fatalf("repeat peer established: %v", err)
		}
	}
}

func TestCommStateMachineFiresCallbackOnEveryEntry(t *testing.T) {
	entered := 0
	sm := newCommStateMachine(func() { entered++ })

	_ = sm.Initiate()
	if err := sm.Accepted(); err != nil {
		t.Fatalf("accepted: %v", err)
	}
	if err := sm.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := sm.PeerEstablished(); err != nil {
		t.Fatalf("peer established: %v", err)
	}

	if entered != 2 {
		t.Fatalf("expected 2 entries into COMMUNICATING, got %d", entered)
	}
}

func TestCommStateMachineInvalidEvent(t *testing.T) {
	sm := newCommStateMachine(nil)

	if err := sm.Accepted(); err == nil {
		t.Fatal("accepted from NOT-COMMUNICATING should fail")
	}
	requireCommState(t, sm, CommunicationStateNotCommunicating)
}
