package gem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/go-secs/secs2"
	"go.uber.org/atomic"

	"github.com/semiconlab/gemequip/common"
)

var (
	// ErrNotCommunicating is returned when an operation requires the
	// COMMUNICATING state.
	ErrNotCommunicating = errors.New("gem: not in communicating state")
)

// Events exposes handler callbacks.
type Events struct {
	HandlerCommunicating  *common.Event
	EventReported         *common.Event
	AlarmReported         *common.Event
	RemoteCommandReceived *common.Event
}

// EquipmentHandler orchestrates the equipment side of a GEM interface: the
// communication handshake, report/event configuration, alarm reporting and
// remote command execution, all on top of a message transport.
type EquipmentHandler struct {
	transport  Transport
	dispatcher *Dispatcher

	mdln    string
	softrev string

	comm    *commStateMachine
	control *ControlStateMachine
	reports *ReportEngine
	alarms  *AlarmEngine
	vars    *VariableTable
	rcmds   *RemoteCommandExecutor

	equipState         func() EquipmentState
	establishWait      time.Duration
	communicatingEvent uint32

	enabled             *atomic.Bool
	commAdminEnabled    *atomic.Bool
	handshakeInProgress *atomic.Bool

	attemptMu   sync.Mutex
	lastAttempt time.Time

	events Events

	waitersMu sync.Mutex
	waiters   []chan struct{}

	stopMu sync.Mutex
	cancel context.CancelFunc

	logger common.Logger
}

// NewEquipmentHandler creates a GEM equipment handler.
func NewEquipmentHandler(opts Options) (*EquipmentHandler, error) {
	if opts.Transport == nil {
		return nil, errors.New("gem: transport is required")
	}
	if opts.Variables == nil {
		opts.Variables = NewVariableTable()
	}
	opts.applyDefaults()

	h := &EquipmentHandler{
		transport:           opts.Transport,
		dispatcher:          NewDispatcher(opts.Logger),
		mdln:                opts.MDLN,
		softrev:             opts.SOFTREV,
		vars:                opts.Variables,
		equipState:          opts.EquipmentState,
		establishWait:       opts.EstablishWait,
		communicatingEvent:  opts.CommunicatingEvent,
		enabled:             atomic.NewBool(false),
		commAdminEnabled:    atomic.NewBool(!opts.CommunicationDisabled),
		handshakeInProgress: atomic.NewBool(false),
		events: Events{
			HandlerCommunicating:  &common.Event{},
			EventReported:         &common.Event{},
			RemoteCommandReceived: &common.Event{},
		},
		logger: opts.Logger,
	}

	h.comm = newCommStateMachine(h.notifyCommunicating)
	h.control = NewControlStateMachine(ControlStateMachineOptions{
		InitialState:      opts.InitialControlState,
		InitialOnlineMode: opts.InitialOnlineMode,
	})

	events := opts.CollectionEvents
	if opts.CommunicatingEvent != 0 {
		opts.SystemEvents = appendUnique(opts.SystemEvents, opts.CommunicatingEvent)
	}

	var err error
	h.reports, err = NewReportEngine(ReportEngineConfig{
		Transport:              opts.Transport,
		Variables:              opts.Variables,
		Logger:                 opts.Logger,
		Limits:                 opts.Limits,
		Delivery:               opts.Delivery,
		Events:                 events,
		SystemEvents:           opts.SystemEvents,
		DefaultReportID:        opts.DefaultReportID,
		DefaultReportVariables: opts.DefaultReportVariables,
		SnapshotTTL:            opts.SnapshotTTL,
	})
	if err != nil {
		return nil, err
	}

	h.alarms, err = NewAlarmEngine(AlarmEngineConfig{
		Transport: opts.Transport,
		Logger:    opts.Logger,
		Alarms:    opts.Alarms,
		Delivery:  opts.Delivery,
	})
	if err != nil {
		return nil, err
	}
	h.events.AlarmReported = h.alarms.AlarmReported

	h.rcmds = NewRemoteCommandExecutor(
		func() bool { return h.control.State() == ControlStateOnlineRemote },
		h.FireEvent,
		opts.Logger,
	)

	h.registerHandlers()
	return h, nil
}

func appendUnique(ids []uint32, id uint32) []uint32 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func (h *EquipmentHandler) registerHandlers() {
	h.dispatcher.Register(1, 1, h.onS1F1)
	h.dispatcher.Register(1, 13, h.onS1F13)
	h.dispatcher.Register(1, 14, h.onS1F14)
	h.dispatcher.Register(1, 15, h.onS1F15)
	h.dispatcher.Register(1, 17, h.onS1F17)
	h.dispatcher.Register(2, 33, h.onS2F33)
	h.dispatcher.Register(2, 35, h.onS2F35)
	h.dispatcher.Register(2, 37, h.onS2F37)
	h.dispatcher.Register(2, 41, h.onS2F41)
	h.dispatcher.Register(5, 3, h.onS5F3)
	h.dispatcher.Register(5, 5, h.onS5F5)
	h.dispatcher.Register(5, 7, h.onS5F7)
	h.dispatcher.Register(6, 15, h.onS6F15)
	h.dispatcher.RegisterDefault(h.onUnrecognized)
}

// Dispatcher exposes the message router so the transport glue can feed
// inbound messages into the handler.
func (h *EquipmentHandler) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// Events returns the handler event hooks.
func (h *EquipmentHandler) Events() Events {
	return h.events
}

// Variables returns the variable table backing event reports.
func (h *EquipmentHandler) Variables() *VariableTable {
	return h.vars
}

// Reports exposes the report/event engine.
func (h *EquipmentHandler) Reports() *ReportEngine {
	return h.reports
}

// Alarms exposes the alarm engine.
func (h *EquipmentHandler) Alarms() *AlarmEngine {
	return h.alarms
}

// ControlStateMachine exposes the control state machine for operator and
// application driven transitions.
func (h *EquipmentHandler) ControlStateMachine() *ControlStateMachine {
	return h.control
}

// RegisterCommand installs a remote command handler for S2F41 requests.
func (h *EquipmentHandler) RegisterCommand(cmd RemoteCommand) error {
	return h.rcmds.Register(cmd)
}

// Enable starts communication monitoring and the alarm delivery worker.
func (h *EquipmentHandler) Enable() {
	if !h.enabled.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.stopMu.Lock()
	h.cancel = cancel
	h.stopMu.Unlock()

	go h.alarms.DeliveryLoop(ctx)
	go h.monitorLoop(ctx)
}

// Disable stops monitoring and forces NOT-COMMUNICATING.
func (h *EquipmentHandler) Disable() {
	if !h.enabled.CompareAndSwap(true, false) {
		return
	}

	h.stopMu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.stopMu.Unlock()

	if err := h.comm.Reset(); err != nil {
		h.logger.Warn("communication state reset failed", "error", err)
	}
}

// EnableCommunication flips the administrative communication switch on.
func (h *EquipmentHandler) EnableCommunication() {
	h.commAdminEnabled.Store(true)
}

// DisableCommunication flips the administrative switch off and drops an
// established session back to NOT-COMMUNICATING.
func (h *EquipmentHandler) DisableCommunication() {
	h.commAdminEnabled.Store(false)
	if err := h.comm.Reset(); err != nil {
		h.logger.Warn("communication state reset failed", "error", err)
	}
}

// CommunicationState returns the current communication state.
func (h *EquipmentHandler) CommunicationState() CommunicationState {
	return h.comm.State()
}

// ControlState returns the current control state.
func (h *EquipmentHandler) ControlState() ControlState {
	return h.control.State()
}

// Communicating reports whether the GEM handshake has completed.
func (h *EquipmentHandler) Communicating() bool {
	return h.comm.State() == CommunicationStateCommunicating
}

// FireEvent publishes a collection event report to the host.
func (h *EquipmentHandler) FireEvent(ceid uint32) error {
	if !h.Communicating() {
		return ErrNotCommunicating
	}
	if err := h.reports.FireEvent(ceid); err != nil {
		return err
	}
	h.events.EventReported.Fire(map[string]interface{}{"ceid": ceid})
	return nil
}

// RaiseAlarm records an alarm occurrence and queues its notification.
func (h *EquipmentHandler) RaiseAlarm(alid uint32) error {
	return h.alarms.Report(alid, true)
}

// ClearAlarm records an alarm clear and queues its notification.
func (h *EquipmentHandler) ClearAlarm(alid uint32) error {
	return h.alarms.Clear(alid)
}

// WaitForCommunicating blocks until the handler reaches COMMUNICATING or the
// timeout expires. A non-positive timeout waits indefinitely.
func (h *EquipmentHandler) WaitForCommunicating(timeout time.Duration) bool {
	if h.Communicating() {
		return true
	}

	waiter := make(chan struct{}, 1)

	h.waitersMu.Lock()
	if h.Communicating() {
		h.waitersMu.Unlock()
		return true
	}
	h.waiters = append(h.waiters, waiter)
	h.waitersMu.Unlock()

	if timeout <= 0 {
		<-waiter
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter:
		return true
	case <-timer.C:
		h.removeWaiter(waiter)
		return false
	}
}

func (h *EquipmentHandler) removeWaiter(target chan struct{}) {
	h.waitersMu.Lock()
	defer h.waitersMu.Unlock()

	for idx, waiter := range h.waiters {
		if waiter == target {
			h.waiters = append(h.waiters[:idx], h.waiters[idx+1:]...)
			return
		}
	}
}

// notifyCommunicating runs on every entry into COMMUNICATING.
func (h *EquipmentHandler) notifyCommunicating() {
	h.waitersMu.Lock()
	waiters := h.waiters
	h.waiters = nil
	h.waitersMu.Unlock()

	for _, waiter := range waiters {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}

	go h.postEstablishSync()

	if h.events.HandlerCommunicating != nil {
		h.events.HandlerCommunicating.Fire(map[string]interface{}{"handler": h})
	}
}

// postEstablishSync re-announces asserted alarms and fires the
// communication-established collection event.
func (h *EquipmentHandler) postEstablishSync() {
	h.alarms.ResendActive()

	if h.communicatingEvent != 0 {
		if err := h.reports.FireEvent(h.communicatingEvent); err != nil {
			h.logger.Warn("communicating event report failed",
				"ceid", h.communicatingEvent, "error", err)
		}
	}
}

func (h *EquipmentHandler) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	sweepEvery := 20 // snapshot sweep every ~10s
	tick := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.observe()
			tick++
			if tick%sweepEvery == 0 {
				h.reports.SweepSnapshots()
			}
		}
	}
}

func (h *EquipmentHandler) observe() {
	if !h.enabled.Load() {
		return
	}

	if !h.transport.Usable() {
		if h.Communicating() {
			h.logger.Warn("transport lost, dropping to NOT-COMMUNICATING")
			if err := h.comm.Reset(); err != nil {
				h.logger.Warn("communication state reset failed", "error", err)
			}
		}
		return
	}

	if !h.commAdminEnabled.Load() {
		return
	}

	switch h.comm.State() {
	case CommunicationStateNotCommunicating:
		h.Establish()
	case CommunicationStateWaitDelay:
		h.attemptMu.Lock()
		expired := time.Since(h.lastAttempt) >= h.establishWait
		h.attemptMu.Unlock()
		if expired {
			if err := h.comm.DelayExpired(); err == nil {
				h.Establish()
			}
		}
	}
}

// Establish runs one equipment-initiated handshake attempt. It returns true
// when an attempt was started; a second caller during an in-flight attempt
// gets false without disturbing the first.
func (h *EquipmentHandler) Establish() bool {
	if !h.enabled.Load() || !h.commAdminEnabled.Load() {
		return false
	}
	if !h.handshakeInProgress.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer h.handshakeInProgress.Store(false)

		if err := h.comm.Initiate(); err != nil {
			h.logger.Warn("cannot start handshake", "state", h.comm.State().String(), "error", err)
			return
		}

		reply, err := h.transport.SendAndWait(buildEstablishRequest(h.mdln, h.softrev))

		h.attemptMu.Lock()
		h.lastAttempt = time.Now()
		h.attemptMu.Unlock()

		if err != nil || reply == nil {
			h.logger.Warn("establish communication request failed", "error", err)
			if smErr := h.comm.ReplyTimeout(); smErr != nil {
				h.logger.Debug("handshake state change skipped", "error", smErr)
			}
			return
		}

		commack, ackErr := readCommAck(reply)
		if ackErr != nil || commack != commAckAccepted {
			h.logger.Warn("establishing communication denied", "commack", commack)
			if smErr := h.comm.Denied(); smErr != nil {
				h.logger.Debug("handshake state change skipped", "error", smErr)
			}
			return
		}

		if smErr := h.comm.Accepted(); smErr != nil {
			h.logger.Warn("handshake acceptance discarded", "error", smErr)
		}
	}()

	return true
}

// acceptHostHandshake decides whether an inbound S1F13 may complete.
func (h *EquipmentHandler) acceptHostHandshake() bool {
	if !h.commAdminEnabled.Load() {
		h.logger.Info("refusing handshake, communication disabled")
		return false
	}
	switch state := h.equipState(); state {
	case EquipmentStateInit, EquipmentStateFault:
		h.logger.Info("refusing handshake, equipment not ready", "state", state.String())
		return false
	}
	if h.alarms.MandatoryActive() {
		h.logger.Info("refusing handshake, mandatory alarm active")
		return false
	}
	return true
}

func (h *EquipmentHandler) onS1F1(msg *Message) (*Message, error) {
	body := secs2.L(secs2.A(h.mdln), secs2.A(h.softrev))
	return msg.Reply(body), nil
}

func (h *EquipmentHandler) onS1F13(msg *Message) (*Message, error) {
	if !h.acceptHostHandshake() {
		return msg.Reply(buildEstablishAck(commAckDenied, h.mdln, h.softrev)), nil
	}

	if err := h.comm.PeerEstablished(); err != nil {
		h.logger.Warn("host handshake state change failed", "error", err)
		return msg.Reply(buildEstablishAck(commAckDenied, h.mdln, h.softrev)), nil
	}
	return msg.Reply(buildEstablishAck(commAckAccepted, h.mdln, h.softrev)), nil
}

// onS1F14 only sees unsolicited replies; a reply correlated with an
// in-flight S1F13 is consumed by the transport's request/reply matching.
func (h *EquipmentHandler) onS1F14(msg *Message) (*Message, error) {
	commack, err := readCommAck(msg)
	h.logger.Warn("discarding unexpected S1F14", "commack", commack, "parse_error", err)
	return nil, nil
}

// onS1F15 moves the control model to HOST_OFFLINE. OFLACK has no refusal
// value, so the request is acknowledged even when no transition happens.
func (h *EquipmentHandler) onS1F15(msg *Message) (*Message, error) {
	if err := h.control.RemoteOffline(); err != nil {
		h.logger.Warn("offline request refused", "state", h.control.State(), "error", err)
	}
	return msg.Reply(secs2.B(oflAckAccepted)), nil
}

func (h *EquipmentHandler) onS1F17(msg *Message) (*Message, error) {
	if h.control.IsOnline() {
		return msg.Reply(secs2.B(onlAckAlreadyOnline)), nil
	}
	if err := h.control.RemoteOnline(); err != nil {
		h.logger.Warn("online request refused", "state", h.control.State(), "error", err)
		return msg.Reply(secs2.B(onlAckRefused)), nil
	}
	return msg.Reply(secs2.B(onlAckAccepted)), nil
}

func (h *EquipmentHandler) onS2F33(msg *Message) (*Message, error) {
	if !h.Communicating() {
		return msg.Reply(secs2.B(drAckInsufficientSpace)), nil
	}

	entries, err := parseReportEntries(msg.Item())
	if err != nil {
		h.logger.Warn("malformed define report request", "error", err)
		return msg.Reply(secs2.B(drAckInvalidFormat)), nil
	}

	drack := h.reports.DefineReports(entries)
	return msg.Reply(secs2.B(byte(drack))), nil
}

func (h *EquipmentHandler) onS2F35(msg *Message) (*Message, error) {
	if !h.Communicating() {
		return msg.Reply(secs2.B(lrAckInsufficientSpace)), nil
	}

	entries, err := parseLinkEntries(msg.Item())
	if err != nil {
		h.logger.Warn("malformed link event report request", "error", err)
		return msg.Reply(secs2.B(lrAckInvalidFormat)), nil
	}

	lrack := h.reports.LinkReports(entries)
	return msg.Reply(secs2.B(byte(lrack))), nil
}

func (h *EquipmentHandler) onS2F37(msg *Message) (*Message, error) {
	enable, ceids, err := parseEventEnable(msg.Item())
	if err != nil {
		h.logger.Warn("malformed enable event report request", "error", err)
		return msg.Reply(secs2.B(erAckUnknownCEID)), nil
	}

	if !h.reports.SetEventsEnabled(enable, ceids) {
		return msg.Reply(secs2.B(erAckUnknownCEID)), nil
	}
	return msg.Reply(secs2.B(erAckAccepted)), nil
}

func (h *EquipmentHandler) onS2F41(msg *Message) (*Message, error) {
	req, err := parseRemoteCommand(msg.Item())
	if err != nil {
		h.logger.Warn("malformed remote command request", "error", err)
		return msg.Reply(buildCommandAck(HCACKDeniedInvalidCommand)), nil
	}

	if h.events.RemoteCommandReceived != nil {
		h.events.RemoteCommandReceived.Fire(map[string]interface{}{"request": req})
	}

	hcack := h.rcmds.Execute(req)
	return msg.Reply(buildCommandAck(hcack)), nil
}

func (h *EquipmentHandler) onS5F3(msg *Message) (*Message, error) {
	if !h.Communicating() {
		return msg.Reply(secs2.B(ackc5Busy)), nil
	}

	req, err := parseAlarmEnable(msg.Item())
	if err != nil {
		h.logger.Warn("malformed alarm enable request", "error", err)
		return msg.Reply(secs2.B(ackc5UnknownALID)), nil
	}

	if err := h.alarms.SetEnabled(req.mode(), req.ids); err != nil {
		h.logger.Warn("alarm enable request rejected", "error", err)
		return msg.Reply(secs2.B(ackc5UnknownALID)), nil
	}
	return msg.Reply(secs2.B(ackc5Accepted)), nil
}

func (h *EquipmentHandler) onS5F5(msg *Message) (*Message, error) {
	ids, err := parseAlarmSelection(msg.Item())
	if err != nil {
		h.logger.Warn("malformed list alarms request", "error", err)
		return msg.Reply(secs2.L()), nil
	}
	return msg.Reply(buildAlarmListItem(selectAlarms(h.alarms.AllAlarms(), ids))), nil
}

func (h *EquipmentHandler) onS5F7(msg *Message) (*Message, error) {
	return msg.Reply(buildAlarmListItem(enabledOnly(h.alarms.AllAlarms()))), nil
}

func (h *EquipmentHandler) onS6F15(msg *Message) (*Message, error) {
	ceid, err := parseEventRequest(msg.Item())
	if err != nil {
		h.logger.Warn("malformed event report request", "error", err)
		return msg.Reply(buildEmptyEventReportItem(0)), nil
	}

	data, known := h.reports.QueryEvent(ceid)
	if !known {
		h.logger.Warn("event report request for unknown event", "ceid", ceid)
		return msg.Reply(buildEmptyEventReportItem(ceid)), nil
	}
	return msg.Reply(buildEventReportItem(data)), nil
}

// onUnrecognized answers wait-bit messages with the stream's function-zero
// abort; header-only messages are dropped.
func (h *EquipmentHandler) onUnrecognized(msg *Message) (*Message, error) {
	h.logger.Warn("unrecognized message", "message", msg.SF())
	if !msg.WaitBit() {
		return nil, nil
	}
	return NewMessage(msg.StreamCode(), 0, false, nil), nil
}

// buildEstablishRequest assembles S1F13: <L[2] <MDLN> <SOFTREV>>.
func buildEstablishRequest(mdln, softrev string) *Message {
	return NewMessage(1, 13, true, secs2.L(secs2.A(mdln), secs2.A(softrev)))
}

// buildEstablishAck assembles the S1F14 body:
//
//	<L[2] <COMMACK binary> <L[2] <MDLN> <SOFTREV>>>
func buildEstablishAck(commack byte, mdln, softrev string) secs2.Item {
	return secs2.L(
		secs2.B(commack),
		secs2.L(secs2.A(mdln), secs2.A(softrev)),
	)
}

// readCommAck extracts the COMMACK byte from an S1F14 body.
func readCommAck(msg *Message) (byte, error) {
	if msg == nil {
		return 0, errMalformedItem
	}
	first, err := listElement(msg.Item(), 0)
	if err != nil {
		return 0, err
	}
	return itemToByte(first)
}
