package gem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// ControlState enumerates the SEMI E30 control state model states.
type ControlState string

const (
	ControlStateEquipmentOffline ControlState = "EQUIPMENT_OFFLINE"
	ControlStateAttemptOnline    ControlState = "ATTEMPT_ONLINE"
	ControlStateHostOffline      ControlState = "HOST_OFFLINE"
	ControlStateOnline           ControlState = "ONLINE"
	ControlStateOnlineLocal      ControlState = "ONLINE_LOCAL"
	ControlStateOnlineRemote     ControlState = "ONLINE_REMOTE"
)

// OnlineControlMode captures the sub-state of the ONLINE state.
type OnlineControlMode string

const (
	OnlineModeLocal  OnlineControlMode = "LOCAL"
	OnlineModeRemote OnlineControlMode = "REMOTE"
)

// ControlStateMachineOptions configures a ControlStateMachine instance.
type ControlStateMachineOptions struct {
	InitialState      ControlState
	InitialOnlineMode OnlineControlMode
}

// ErrInvalidControlTransition signals an invalid transition request.
var ErrInvalidControlTransition = errors.New("gem: invalid control state transition")

// ControlStateMachine implements the SEMI E30 control state model.
type ControlStateMachine struct {
	mu         sync.RWMutex
	fsm        *fsm.FSM
	onlineMode OnlineControlMode
}

// NewControlStateMachine builds a control state machine initialized to the
// configured starting state.
func NewControlStateMachine(opts ControlStateMachineOptions) *ControlStateMachine {
	sm := &ControlStateMachine{onlineMode: OnlineModeRemote}
	if isValidOnlineMode(opts.InitialOnlineMode) {
		sm.onlineMode = opts.InitialOnlineMode
	}

	initial := ControlStateAttemptOnline
	if isValidInitialControlState(opts.InitialState) {
		initial = opts.InitialState
	}
	if initial == ControlStateOnline {
		initial = sm.onlineLeafState()
	}

	onlineStates := []string{
		string(ControlStateOnlineLocal),
		string(ControlStateOnlineRemote),
	}

	sm.fsm = fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: "switch_online", Src: []string{string(ControlStateEquipmentOffline)}, Dst: string(ControlStateAttemptOnline)},
			{Name: "switch_offline", Src: onlineStates, Dst: string(ControlStateEquipmentOffline)},
			{Name: "switch_online_local", Src: []string{string(ControlStateOnlineRemote)}, Dst: string(ControlStateOnlineLocal)},
			{Name: "switch_online_remote", Src: []string{string(ControlStateOnlineLocal)}, Dst: string(ControlStateOnlineRemote)},
			{Name: "attempt_fail_equipment_offline", Src: []string{string(ControlStateAttemptOnline)}, Dst: string(ControlStateEquipmentOffline)},
			{Name: "attempt_fail_host_offline", Src: []string{string(ControlStateAttemptOnline)}, Dst: string(ControlStateHostOffline)},
			{Name: "attempt_success_local", Src: []string{string(ControlStateAttemptOnline)}, Dst: string(ControlStateOnlineLocal)},
			{Name: "attempt_success_remote", Src: []string{string(ControlStateAttemptOnline)}, Dst: string(ControlStateOnlineRemote)},
			{Name: "remote_offline", Src: onlineStates, Dst: string(ControlStateHostOffline)},
			{Name: "remote_online_local", Src: []string{string(ControlStateHostOffline)}, Dst: string(ControlStateOnlineLocal)},
			{Name: "remote_online_remote", Src: []string{string(ControlStateHostOffline)}, Dst: string(ControlStateOnlineRemote)},
		},
		fsm.Callbacks{},
	)
	return sm
}

// State returns the current control state.
func (sm *ControlStateMachine) State() ControlState {
	return ControlState(sm.fsm.Current())
}

// OnlineMode reports the currently selected ONLINE sub-state preference.
func (sm *ControlStateMachine) OnlineMode() OnlineControlMode {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.onlineMode
}

// IsOnline reports whether the machine is in either ONLINE sub-state.
func (sm *ControlStateMachine) IsOnline() bool {
	switch sm.State() {
	case ControlStateOnlineLocal, ControlStateOnlineRemote:
		return true
	default:
		return false
	}
}

// SwitchOnline models the operator transition from EQUIPMENT_OFFLINE to
// ATTEMPT_ONLINE.
func (sm *ControlStateMachine) SwitchOnline() error {
	if sm.State() == ControlStateAttemptOnline {
		return nil
	}
	return sm.event("switch_online")
}

// SwitchOffline models the operator returning to EQUIPMENT_OFFLINE.
func (sm *ControlStateMachine) SwitchOffline() error {
	return sm.event("switch_offline")
}

// SwitchOnlineLocal models switching from ONLINE_REMOTE to ONLINE_LOCAL.
func (sm *ControlStateMachine) SwitchOnlineLocal() error {
	if sm.State() == ControlStateOnlineLocal {
		sm.setOnlineMode(OnlineModeLocal)
		return nil
	}
	if err := sm.event("switch_online_local"); err != nil {
		return err
	}
	sm.setOnlineMode(OnlineModeLocal)
	return nil
}

// SwitchOnlineRemote models switching from ONLINE_LOCAL to ONLINE_REMOTE.
func (sm *ControlStateMachine) SwitchOnlineRemote() error {
	if sm.State() == ControlStateOnlineRemote {
		sm.setOnlineMode(OnlineModeRemote)
		return nil
	}
	if err := sm.event("switch_online_remote"); err != nil {
		return err
	}
	sm.setOnlineMode(OnlineModeRemote)
	return nil
}

// AttemptOnlineFailEquipmentOffline transitions ATTEMPT_ONLINE to
// EQUIPMENT_OFFLINE.
func (sm *ControlStateMachine) AttemptOnlineFailEquipmentOffline() error {
	if sm.State() == ControlStateEquipmentOffline {
		return nil
	}
	return sm.event("attempt_fail_equipment_offline")
}

// AttemptOnlineFailHostOffline transitions ATTEMPT_ONLINE to HOST_OFFLINE.
func (sm *ControlStateMachine) AttemptOnlineFailHostOffline() error {
	if sm.State() == ControlStateHostOffline {
		return nil
	}
	return sm.event("attempt_fail_host_offline")
}

// AttemptOnlineSuccess transitions ATTEMPT_ONLINE to ONLINE_(LOCAL|REMOTE)
// per the configured online mode.
func (sm *ControlStateMachine) AttemptOnlineSuccess() error {
	if sm.IsOnline() {
		return nil
	}
	if sm.OnlineMode() == OnlineModeLocal {
		return sm.event("attempt_success_local")
	}
	return sm.event("attempt_success_remote")
}

// RemoteOffline transitions the ONLINE cluster to HOST_OFFLINE.
func (sm *ControlStateMachine) RemoteOffline() error {
	if sm.State() == ControlStateHostOffline {
		return nil
	}
	return sm.event("remote_offline")
}

// RemoteOnline transitions HOST_OFFLINE back to ONLINE_(LOCAL|REMOTE).
func (sm *ControlStateMachine) RemoteOnline() error {
	if sm.IsOnline() {
		return nil
	}
	if sm.OnlineMode() == OnlineModeLocal {
		return sm.event("remote_online_local")
	}
	return sm.event("remote_online_remote")
}

func (sm *ControlStateMachine) setOnlineMode(mode OnlineControlMode) {
	sm.mu.Lock()
	sm.onlineMode = mode
	sm.mu.Unlock()
}

func (sm *ControlStateMachine) onlineLeafState() ControlState {
	if sm.onlineMode == OnlineModeLocal {
		return ControlStateOnlineLocal
	}
	return ControlStateOnlineRemote
}

func (sm *ControlStateMachine) event(name string) error {
	err := sm.fsm.Event(context.Background(), name)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("gem: cannot %s while in control state %s: %w", name, sm.fsm.Current(), ErrInvalidControlTransition)
}

func isValidInitialControlState(state ControlState) bool {
	switch state {
	case ControlStateEquipmentOffline, ControlStateAttemptOnline, ControlStateHostOffline, ControlStateOnline:
		return true
	default:
		return false
	}
}

func isValidOnlineMode(mode OnlineControlMode) bool {
	switch mode {
	case OnlineModeLocal, OnlineModeRemote:
		return true
	default:
		return false
	}
}
