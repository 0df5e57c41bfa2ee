package gem

import (
	"errors"
	"fmt"
	"sync"

	linq "github.com/ahmetb/go-linq/v3"
	"github.com/arloliu/go-secs/secs2"

	"github.com/semiconlab/gemequip/common"
)

// maxAlarmTextLen caps the ALTX field per SEMI E5.
const maxAlarmTextLen = 40

var (
	// ErrUnknownAlarm is returned when an alarm id is not defined.
	ErrUnknownAlarm = errors.New("gem: unknown alarm")
)

// AlarmDefinition describes one equipment alarm. Definitions are fixed at
// startup; only the enabled/active runtime state changes afterwards.
type AlarmDefinition struct {
	ID       uint32
	Text     string
	Category uint8
	// Mandatory alarms can never be disabled by the host and block
	// communication establishment while active.
	Mandatory bool
}

// AlarmStatus couples a definition with its runtime state.
type AlarmStatus struct {
	AlarmDefinition
	Enabled bool
	Active  bool
}

// AlarmEnableMode selects how an enable/disable request is applied.
type AlarmEnableMode int

const (
	// AlarmDisableListed disables exactly the listed ids.
	AlarmDisableListed AlarmEnableMode = iota
	// AlarmEnableListed enables exactly the listed ids.
	AlarmEnableListed
	// AlarmDisableAllEnableListed re-seeds the enabled set with the
	// mandatory ids, then enables the listed ids.
	AlarmDisableAllEnableListed
	// AlarmEnableAllDisableListed enables every alarm, then disables the
	// listed non-mandatory ids.
	AlarmEnableAllDisableListed
)

// AlarmEngineConfig wires an AlarmEngine.
type AlarmEngineConfig struct {
	Transport Transport
	Logger    common.Logger
	Alarms    []AlarmDefinition
	Delivery  DeliveryPolicy
}

// AlarmEngine owns the enabled/mandatory/active alarm sets and a reliable
// at-least-once delivery pipeline for occurrence/clear notifications.
type AlarmEngine struct {
	mu      sync.RWMutex
	defs    map[uint32]AlarmDefinition
	enabled map[uint32]struct{}
	active  map[uint32]struct{}

	queue    chan pendingAlarm
	delivery DeliveryPolicy

	transport Transport
	logger    common.Logger

	// AlarmReported fires after a delivery item is enqueued.
	AlarmReported *common.Event
}

// pendingAlarm is one queued occurrence/clear notification awaiting
// at-least-once delivery.
type pendingAlarm struct {
	id   uint32
	text string
	code uint8
	set  bool
}

// NewAlarmEngine builds the engine. Before any host configuration the
// enabled set is exactly the mandatory set; the host opts into everything
// else via S5F3.
func NewAlarmEngine(cfg AlarmEngineConfig) (*AlarmEngine, error) {
	if cfg.Logger == nil {
		cfg.Logger = common.NopLogger()
	}
	cfg.Delivery.applyDefaults()

	e := &AlarmEngine{
		defs:          make(map[uint32]AlarmDefinition, len(cfg.Alarms)),
		enabled:       make(map[uint32]struct{}, len(cfg.Alarms)),
		active:        make(map[uint32]struct{}),
		queue:         make(chan pendingAlarm, cfg.Delivery.QueueSize),
		delivery:      cfg.Delivery,
		transport:     cfg.Transport,
		logger:        cfg.Logger,
		AlarmReported: &common.Event{},
	}

	for _, def := range cfg.Alarms {
		if def.ID == 0 {
			return nil, errors.New("gem: alarm id must be non-zero")
		}
		if _, dup := e.defs[def.ID]; dup {
			return nil, fmt.Errorf("gem: alarm %d defined twice", def.ID)
		}
		if len(def.Text) > maxAlarmTextLen {
			def.Text = def.Text[:maxAlarmTextLen]
		}
		e.defs[def.ID] = def
		if def.Mandatory {
			e.enabled[def.ID] = struct{}{}
		}
	}

	return e, nil
}

// SetEnabled applies an enable/disable request. An unknown id anywhere in
// the input rejects the whole batch before any mutation. Disabling a
// mandatory id is skipped for that id and logged, never an overall failure.
func (e *AlarmEngine) SetEnabled(mode AlarmEnableMode, ids []uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range ids {
		if _, ok := e.defs[id]; !ok {
			return fmt.Errorf("gem: alarm %d: %w", id, ErrUnknownAlarm)
		}
	}

	switch mode {
	case AlarmDisableAllEnableListed:
		e.seedMandatoryLocked()
		for _, id := range ids {
			e.enabled[id] = struct{}{}
		}
	case AlarmEnableAllDisableListed:
		for id := range e.defs {
			e.enabled[id] = struct{}{}
		}
		for _, id := range ids {
			e.disableLocked(id)
		}
	case AlarmEnableListed:
		for _, id := range ids {
			e.enabled[id] = struct{}{}
		}
	case AlarmDisableListed:
		for _, id := range ids {
			e.disableLocked(id)
		}
	default:
		return fmt.Errorf("gem: invalid alarm enable mode %d", mode)
	}

	return nil
}

func (e *AlarmEngine) seedMandatoryLocked() {
	e.enabled = make(map[uint32]struct{})
	for id, def := range e.defs {
		if def.Mandatory {
			e.enabled[id] = struct{}{}
		}
	}
}

func (e *AlarmEngine) disableLocked(id uint32) {
	if e.defs[id].Mandatory {
		e.logger.Warn("refusing to disable mandatory alarm", "alid", id)
		return
	}
	delete(e.enabled, id)
}

// Report records an alarm state change and queues an occurrence/clear
// notification for delivery. Reports on alarms the host has disabled are
// skipped entirely, with no state change and no network activity.
func (e *AlarmEngine) Report(id uint32, set bool) error {
	e.mu.Lock()
	def, ok := e.defs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("gem: alarm %d: %w", id, ErrUnknownAlarm)
	}
	if _, enabled := e.enabled[id]; !enabled {
		e.mu.Unlock()
		e.logger.Debug("alarm report suppressed", "alid", id, "set", set)
		return nil
	}

	if set {
		e.active[id] = struct{}{}
	} else {
		delete(e.active, id)
	}
	e.mu.Unlock()

	e.enqueue(pendingAlarm{id: id, text: def.Text, code: alarmCode(def.Category, set), set: set})

	e.AlarmReported.Fire(map[string]interface{}{"alid": id, "set": set})
	return nil
}

// Clear is shorthand for Report(id, false).
func (e *AlarmEngine) Clear(id uint32) error {
	return e.Report(id, false)
}

func alarmCode(category uint8, set bool) uint8 {
	code := category &^ uint8(alcdSetBit)
	if set {
		code |= alcdSetBit
	}
	return code
}

// EnabledAlarms returns the enabled set ordered by category, then id. The
// mandatory alarms are always part of the result.
func (e *AlarmEngine) EnabledAlarms() []AlarmDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedLocked(true)
}

// AllAlarms returns every alarm with its runtime state, ordered by
// category, then id.
func (e *AlarmEngine) AllAlarms() []AlarmStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []AlarmStatus
	linq.From(e.statusesLocked()).
		OrderByT(func(s AlarmStatus) uint8 { return s.Category }).
		ThenByT(func(s AlarmStatus) uint32 { return s.ID }).
		ToSlice(&out)
	return out
}

// ActiveEnabled returns the currently asserted, reportable alarms; used to
// re-announce alarms after communication is (re-)established.
func (e *AlarmEngine) ActiveEnabled() []AlarmDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []AlarmDefinition
	linq.From(e.defsLocked()).
		WhereT(func(d AlarmDefinition) bool {
			_, active := e.active[d.ID]
			_, enabled := e.enabled[d.ID]
			return active && enabled
		}).
		OrderByT(func(d AlarmDefinition) uint8 { return d.Category }).
		ThenByT(func(d AlarmDefinition) uint32 { return d.ID }).
		ToSlice(&out)
	return out
}

// ResendActive re-queues an occurrence notification for every asserted,
// reportable alarm. Called after communication is (re-)established so the
// host regains a consistent alarm picture.
func (e *AlarmEngine) ResendActive() {
	for _, def := range e.ActiveEnabled() {
		e.enqueue(pendingAlarm{
			id:   def.ID,
			text: def.Text,
			code: alarmCode(def.Category, true),
			set:  true,
		})
	}
}

// MandatoryActive reports whether any mandatory alarm is currently
// asserted; communication establishment is refused while true.
func (e *AlarmEngine) MandatoryActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for id := range e.active {
		if e.defs[id].Mandatory {
			return true
		}
	}
	return false
}

// IsActive reports whether the alarm is currently asserted.
func (e *AlarmEngine) IsActive(id uint32) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, active := e.active[id]
	return active
}

func (e *AlarmEngine) sortedLocked(enabledOnly bool) []AlarmDefinition {
	var out []AlarmDefinition
	linq.From(e.defsLocked()).
		WhereT(func(d AlarmDefinition) bool {
			if !enabledOnly {
				return true
			}
			_, enabled := e.enabled[d.ID]
			return enabled
		}).
		OrderByT(func(d AlarmDefinition) uint8 { return d.Category }).
		ThenByT(func(d AlarmDefinition) uint32 { return d.ID }).
		ToSlice(&out)
	return out
}

func (e *AlarmEngine) defsLocked() []AlarmDefinition {
	defs := make([]AlarmDefinition, 0, len(e.defs))
	for _, def := range e.defs {
		defs = append(defs, def)
	}
	return defs
}

func (e *AlarmEngine) statusesLocked() []AlarmStatus {
	statuses := make([]AlarmStatus, 0, len(e.defs))
	for id, def := range e.defs {
		_, enabled := e.enabled[id]
		_, active := e.active[id]
		statuses = append(statuses, AlarmStatus{AlarmDefinition: def, Enabled: enabled, Active: active})
	}
	return statuses
}

// buildAlarmReport assembles the S5F1 body for one notification:
//
//	<L[3] <ALCD binary> <ALID u4> <ALTX ascii>>
func buildAlarmReport(item pendingAlarm) *Message {
	body := secs2.L(
		secs2.B(item.code),
		secs2.U4(uint64(item.id)),
		secs2.A(item.text),
	)
	return NewMessage(5, 1, true, body)
}

// buildAlarmListItem assembles the shared S5F6/S5F8 body shape.
func buildAlarmListItem(alarms []AlarmStatus) secs2.Item {
	items := make([]secs2.Item, 0, len(alarms))
	for _, a := range alarms {
		code := a.Category &^ uint8(alcdSetBit)
		if a.Active {
			code |= alcdSetBit
		}
		items = append(items, secs2.L(
			secs2.B(code),
			secs2.U4(uint64(a.ID)),
			secs2.A(a.Text),
		))
	}
	return secs2.L(items...)
}
