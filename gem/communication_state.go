package gem

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// CommunicationState reflects the SEMI E30 communication state model.
type CommunicationState int

const (
	CommunicationStateNotCommunicating CommunicationState = iota
	CommunicationStateWaitCRA
	CommunicationStateWaitDelay
	CommunicationStateCommunicating
)

func (s CommunicationState) String() string {
	switch s {
	case CommunicationStateNotCommunicating:
		return "NOT-COMMUNICATING"
	case CommunicationStateWaitCRA:
		return "WAIT-CRA"
	case CommunicationStateWaitDelay:
		return "WAIT-DELAY"
	case CommunicationStateCommunicating:
		return "COMMUNICATING"
	default:
		return "UNKNOWN"
	}
}

const (
	commStateNotCommunicating = "NOT-COMMUNICATING"
	commStateWaitCRA          = "WAIT-CRA"
	commStateWaitDelay        = "WAIT-DELAY"
	commStateCommunicating    = "COMMUNICATING"
)

// commStateMachine owns the handshake state. All mutations go through its
// event methods; every other component only reads State().
type commStateMachine struct {
	fsm *fsm.FSM
}

// newCommStateMachine builds the state machine in NOT-COMMUNICATING.
// onCommunicating fires on every entry into COMMUNICATING.
func newCommStateMachine(onCommunicating func()) *commStateMachine {
	sm := &commStateMachine{}

	callbacks := fsm.Callbacks{}
	if onCommunicating != nil {
		callbacks["enter_"+commStateCommunicating] = func(_ context.Context, _ *fsm.Event) {
			onCommunicating()
		}
	}

	anyState := []string{
		commStateNotCommunicating, commStateWaitCRA, commStateWaitDelay, commStateCommunicating,
	}

	sm.fsm = fsm.NewFSM(
		commStateNotCommunicating,
		fsm.Events{
			{Name: "initiate", Src: []string{commStateNotCommunicating}, Dst: commStateWaitCRA},
			{Name: "accepted", Src: []string{commStateWaitCRA}, Dst: commStateCommunicating},
			{Name: "denied", Src: []string{commStateWaitCRA}, Dst: commStateWaitDelay},
			{Name: "reply_timeout", Src: []string{commStateWaitCRA}, Dst: commStateWaitDelay},
			{Name: "delay_expired", Src: []string{commStateWaitDelay}, Dst: commStateNotCommunicating},
			{Name: "peer_established", Src: anyState, Dst: commStateCommunicating},
			{Name: "reset", Src: anyState, Dst: commStateNotCommunicating},
		},
		callbacks,
	)

	return sm
}

// State returns the current communication state.
func (sm *commStateMachine) State() CommunicationState {
	switch sm.fsm.Current() {
	case commStateWaitCRA:
		return CommunicationStateWaitCRA
	case commStateWaitDelay:
		return CommunicationStateWaitDelay
	case commStateCommunicating:
		return CommunicationStateCommunicating
	default:
		return CommunicationStateNotCommunicating
	}
}

func (sm *commStateMachine) event(name string) error {
	err := sm.fsm.Event(context.Background(), name)
	if err == nil {
		return nil
	}
	// Staying in the same state is not a failure for self-edges like
	// peer_established while already COMMUNICATING.
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// Initiate marks an establish-communications request sent (→ WAIT-CRA).
func (sm *commStateMachine) Initiate() error { return sm.event("initiate") }

// Accepted records an S1F14 COMMACK=0 reply (→ COMMUNICATING).
func (sm *commStateMachine) Accepted() error { return sm.event("accepted") }

// Denied records an S1F14 denial (→ WAIT-DELAY).
func (sm *commStateMachine) Denied() error { return sm.event("denied") }

// ReplyTimeout records an expired handshake window (→ WAIT-DELAY).
func (sm *commStateMachine) ReplyTimeout() error { return sm.event("reply_timeout") }

// DelayExpired ends the retry back-off period (→ NOT-COMMUNICATING).
func (sm *commStateMachine) DelayExpired() error { return sm.event("delay_expired") }

// PeerEstablished records an accepted host-initiated handshake (→ COMMUNICATING).
func (sm *commStateMachine) PeerEstablished() error { return sm.event("peer_established") }

// Reset forces NOT-COMMUNICATING, e.g. on disable or link loss.
func (sm *commStateMachine) Reset() error { return sm.event("reset") }
