package gem

import (
	"time"

	"github.com/semiconlab/gemequip/common"
)

// EquipmentState is the coarse processing state reported by the equipment
// application. It gates acceptance of a host communication handshake.
type EquipmentState int

const (
	EquipmentStateInit EquipmentState = iota
	EquipmentStateIdle
	EquipmentStateExecuting
	EquipmentStateFault
)

func (s EquipmentState) String() string {
	switch s {
	case EquipmentStateInit:
		return "INIT"
	case EquipmentStateIdle:
		return "IDLE"
	case EquipmentStateExecuting:
		return "EXECUTING"
	case EquipmentStateFault:
		return "FAULT"
	}
	return "UNKNOWN"
}

// Options describes configurable parameters when creating an
// EquipmentHandler.
type Options struct {
	Transport Transport
	Variables *VariableTable

	// MDLN and SOFTREV identify the equipment in S1F2/S1F14 bodies. Both
	// are truncated to 20 characters per SEMI E5.
	MDLN    string
	SOFTREV string

	// CommunicationDisabled starts the handler with the communication
	// admin switch off; the handshake cannot succeed until
	// EnableCommunication is called.
	CommunicationDisabled bool

	// EquipmentState supplies the current processing state; handshakes are
	// refused while it reports INIT or FAULT. Nil defaults to IDLE.
	EquipmentState func() EquipmentState

	// EstablishWait is the delay between failed establish attempts. The
	// wait for the S1F14 reply itself is bounded by the transport's reply
	// timeout (T3 on HSMS).
	EstablishWait time.Duration

	Limits   ReportLimits
	Delivery DeliveryPolicy

	// CollectionEvents lists the application collection event ids.
	CollectionEvents []uint32
	// SystemEvents lists event ids whose report link may never be removed.
	SystemEvents []uint32
	// CommunicatingEvent, when non-zero, fires after each successful
	// communication establishment. It is registered as a system event.
	CommunicatingEvent uint32

	DefaultReportID        uint32
	DefaultReportVariables []uint32
	SnapshotTTL            time.Duration

	Alarms []AlarmDefinition

	InitialControlState ControlState
	InitialOnlineMode   OnlineControlMode

	Logger common.Logger
}

const maxModelFieldLen = 20

func (o *Options) applyDefaults() {
	if o.MDLN == "" {
		o.MDLN = "gemequip"
	}
	if o.SOFTREV == "" {
		o.SOFTREV = "0.1.0"
	}
	if len(o.MDLN) > maxModelFieldLen {
		o.MDLN = o.MDLN[:maxModelFieldLen]
	}
	if len(o.SOFTREV) > maxModelFieldLen {
		o.SOFTREV = o.SOFTREV[:maxModelFieldLen]
	}
	if o.EstablishWait == 0 {
		o.EstablishWait = 10 * time.Second
	}
	if o.Limits.MaxReports == 0 {
		o.Limits.MaxReports = 64
	}
	if o.Limits.MaxVariablesPerReport == 0 {
		o.Limits.MaxVariablesPerReport = 32
	}
	if o.Limits.MinReportID == 0 {
		o.Limits.MinReportID = 1
	}
	if o.Limits.MaxReportID == 0 {
		o.Limits.MaxReportID = 1<<31 - 1
	}
	o.Delivery.applyDefaults()
	if o.DefaultReportID == 0 {
		o.DefaultReportID = 1 << 31
	}
	if o.SnapshotTTL == 0 {
		o.SnapshotTTL = 10 * time.Second
	}
	if o.EquipmentState == nil {
		o.EquipmentState = func() EquipmentState { return EquipmentStateIdle }
	}
	if !isValidInitialControlState(o.InitialControlState) {
		o.InitialControlState = ControlStateAttemptOnline
	}
	if !isValidOnlineMode(o.InitialOnlineMode) {
		o.InitialOnlineMode = OnlineModeRemote
	}
	if o.Logger == nil {
		o.Logger = common.NopLogger()
	}
}
