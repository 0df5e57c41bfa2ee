package gem

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/go-secs/secs2"

	"github.com/semiconlab/gemequip/common"
)

var (
	// ErrUnknownEvent is returned when an event id is not registered.
	ErrUnknownEvent = errors.New("gem: unknown collection event")
	// ErrEventDisabled is returned when firing an event whose reporting is
	// disabled via S2F37.
	ErrEventDisabled = errors.New("gem: collection event disabled")
)

// ReportLimits bounds the host-configurable report table.
type ReportLimits struct {
	// MaxReports caps the number of host-defined reports.
	MaxReports int
	// MaxVariablesPerReport caps the variable list length of one report.
	MaxVariablesPerReport int
	// MinReportID/MaxReportID bound the numeric partition of host-defined
	// report ids. The built-in default report lives outside it.
	MinReportID uint32
	MaxReportID uint32
}

// ReportEntry is one (RPTID, VID list) pair of a define-report request.
// An empty VariableIDs list deletes the report.
type ReportEntry struct {
	ReportID    uint32
	VariableIDs []uint32
}

// LinkEntry is one (CEID, RPTID list) pair of a link-event-report request.
// An empty ReportIDs list removes the event's links.
type LinkEntry struct {
	EventID   uint32
	ReportIDs []uint32
}

// ReportValues couples a report id with the values captured for it.
type ReportValues struct {
	ReportID uint32
	Values   []secs2.Item
}

// EventReportData is the assembled payload of one event report.
type EventReportData struct {
	DataID   uint32
	EventID  uint32
	Reports  []ReportValues
	Captured time.Time
}

// ReportEngineConfig wires a ReportEngine.
type ReportEngineConfig struct {
	Transport Transport
	Variables VariableSource
	Logger    common.Logger

	Limits   ReportLimits
	Delivery DeliveryPolicy

	// Events lists the collection event ids the equipment publishes.
	Events []uint32
	// SystemEvents lists event ids whose link set may never become empty;
	// they are implicitly known events.
	SystemEvents []uint32

	// DefaultReportID identifies the built-in report linked to every system
	// event at startup and used as fallback for unlinked events. It must lie
	// outside the host partition and is not host-deletable.
	DefaultReportID        uint32
	DefaultReportVariables []uint32

	SnapshotTTL time.Duration
}

// ReportEngine owns report definitions and event-to-report links, captures
// event data snapshots and delivers event reports.
type ReportEngine struct {
	mu      sync.RWMutex
	reports map[uint32][]uint32 // host-defined RPTID → ordered VIDs
	links   map[uint32][]uint32 // CEID → ordered RPTIDs
	enabled map[uint32]bool     // CEID → reporting enabled
	known   map[uint32]struct{} // registered CEIDs
	system  map[uint32]struct{} // system CEIDs, subset of known

	defaultReportID   uint32
	defaultReportVIDs []uint32

	limits    ReportLimits
	delivery  DeliveryPolicy
	snapshots *snapshotCache

	transport Transport
	vars      VariableSource
	logger    common.Logger
}

// NewReportEngine builds the engine with system events pre-linked to the
// built-in default report.
func NewReportEngine(cfg ReportEngineConfig) (*ReportEngine, error) {
	if cfg.Variables == nil {
		return nil, errors.New("gem: variable source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = common.NopLogger()
	}
	if cfg.DefaultReportID >= cfg.Limits.MinReportID && cfg.DefaultReportID <= cfg.Limits.MaxReportID {
		return nil, fmt.Errorf("gem: default report id %d lies inside the host partition", cfg.DefaultReportID)
	}

	e := &ReportEngine{
		reports:           make(map[uint32][]uint32),
		links:             make(map[uint32][]uint32),
		enabled:           make(map[uint32]bool),
		known:             make(map[uint32]struct{}),
		system:            make(map[uint32]struct{}),
		defaultReportID:   cfg.DefaultReportID,
		defaultReportVIDs: append([]uint32(nil), cfg.DefaultReportVariables...),
		limits:            cfg.Limits,
		delivery:          cfg.Delivery,
		snapshots:         newSnapshotCache(cfg.SnapshotTTL),
		transport:         cfg.Transport,
		vars:              cfg.Variables,
		logger:            cfg.Logger,
	}

	for _, ceid := range cfg.Events {
		e.known[ceid] = struct{}{}
		e.enabled[ceid] = true
	}
	for _, ceid := range cfg.SystemEvents {
		e.known[ceid] = struct{}{}
		e.system[ceid] = struct{}{}
		e.enabled[ceid] = true
		e.links[ceid] = []uint32{e.defaultReportID}
	}

	return e, nil
}

// DefineReports applies a define-report batch and returns the DRACK code.
//
// An empty batch is the delete-all-reports directive. Within a batch an empty
// variable list deletes that report (a no-op success when the report does not
// exist). Validation is all-or-nothing: any rejected entry leaves the table
// untouched.
func (e *ReportEngine) DefineReports(entries []ReportEntry) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(entries) == 0 {
		e.deleteAllReportsLocked()
		return drAckOK
	}

	seen := make(map[uint32]struct{}, len(entries))
	adds := 0
	for _, entry := range entries {
		if _, dup := seen[entry.ReportID]; dup {
			return drAckDuplicateRPTID
		}
		seen[entry.ReportID] = struct{}{}

		if entry.ReportID < e.limits.MinReportID || entry.ReportID > e.limits.MaxReportID {
			return drAckInvalidFormat
		}
		if len(entry.VariableIDs) > e.limits.MaxVariablesPerReport {
			return drAckInsufficientSpace
		}
		for _, vid := range entry.VariableIDs {
			if !e.vidResolvable(vid) {
				return drAckUnknownVID
			}
		}

		_, exists := e.reports[entry.ReportID]
		switch {
		case len(entry.VariableIDs) == 0 && exists:
			adds--
		case len(entry.VariableIDs) > 0 && !exists:
			adds++
		}
	}

	if len(e.reports)+adds > e.limits.MaxReports {
		return drAckInsufficientSpace
	}

	for _, entry := range entries {
		if len(entry.VariableIDs) == 0 {
			e.removeReportLocked(entry.ReportID)
			continue
		}
		e.reports[entry.ReportID] = append([]uint32(nil), entry.VariableIDs...)
	}

	return drAckOK
}

func (e *ReportEngine) deleteAllReportsLocked() {
	e.reports = make(map[uint32][]uint32)

	for ceid := range e.links {
		if _, isSystem := e.system[ceid]; isSystem {
			e.links[ceid] = []uint32{e.defaultReportID}
		} else {
			delete(e.links, ceid)
		}
	}
}

// removeReportLocked deletes one report and prunes it from all links.
// A system event stripped of its last report reverts to the default report.
func (e *ReportEngine) removeReportLocked(rptid uint32) {
	delete(e.reports, rptid)

	for ceid, rptids := range e.links {
		pruned := rptids[:0]
		for _, id := range rptids {
			if id != rptid {
				pruned = append(pruned, id)
			}
		}
		if len(pruned) > 0 {
			e.links[ceid] = pruned
			continue
		}
		if _, isSystem := e.system[ceid]; isSystem {
			e.links[ceid] = []uint32{e.defaultReportID}
		} else {
			delete(e.links, ceid)
		}
	}
}

func (e *ReportEngine) vidResolvable(vid uint32) bool {
	type resolver interface{ Has(vid uint32) bool }
	if r, ok := e.vars.(resolver); ok {
		return r.Has(vid)
	}
	_, err := e.vars.Read(vid)
	return !errors.Is(err, ErrVariableNotFound)
}

// LinkReports applies a link-event-report batch and returns the LRACK code.
//
// An empty batch deletes all non-system links. A non-empty report list
// replaces the event's entire link set; an empty list removes the event's
// links, except for system events whose link set must remain non-empty.
func (e *ReportEngine) LinkReports(entries []LinkEntry) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(entries) == 0 {
		for ceid := range e.links {
			if _, isSystem := e.system[ceid]; !isSystem {
				delete(e.links, ceid)
			}
		}
		return lrAckOK
	}

	seen := make(map[uint32]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.EventID]; dup {
			return lrAckInvalidFormat
		}
		seen[entry.EventID] = struct{}{}

		if _, ok := e.known[entry.EventID]; !ok {
			return lrAckUnknownCEID
		}
		if len(entry.ReportIDs) == 0 {
			if _, isSystem := e.system[entry.EventID]; isSystem {
				return lrAckLinkRejected
			}
			continue
		}
		for _, rptid := range entry.ReportIDs {
			if _, defined := e.reports[rptid]; !defined {
				return lrAckUnknownRPTID
			}
		}
	}

	for _, entry := range entries {
		if len(entry.ReportIDs) == 0 {
			delete(e.links, entry.EventID)
			continue
		}
		e.links[entry.EventID] = append([]uint32(nil), entry.ReportIDs...)
	}

	return lrAckOK
}

// SetEventsEnabled flips the reporting flag for the listed events, or for
// all known events when ceids is empty. Unknown ids reject the whole batch.
func (e *ReportEngine) SetEventsEnabled(enable bool, ceids []uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(ceids) == 0 {
		for ceid := range e.known {
			e.enabled[ceid] = enable
		}
		return true
	}

	for _, ceid := range ceids {
		if _, ok := e.known[ceid]; !ok {
			return false
		}
	}
	for _, ceid := range ceids {
		e.enabled[ceid] = enable
	}
	return true
}

// FireEvent captures the event's report data, stores it as the event's
// snapshot and delivers an event report through the transport, retrying per
// the delivery policy. The snapshot is kept even when delivery ultimately
// fails.
func (e *ReportEngine) FireEvent(ceid uint32) error {
	e.mu.RLock()
	_, known := e.known[ceid]
	enabled := e.enabled[ceid]
	e.mu.RUnlock()

	if !known {
		return fmt.Errorf("gem: fire event %d: %w", ceid, ErrUnknownEvent)
	}
	if !enabled {
		e.logger.Debug("event reporting disabled, not firing", "ceid", ceid)
		return ErrEventDisabled
	}

	data := e.collect(ceid, true)
	e.storeSnapshot(data)

	msg := buildEventReport(6, 11, data)
	reply, err := sendWithRetry(e.transport, msg, e.delivery, e.logger)
	if err != nil {
		return fmt.Errorf("gem: deliver event report %d: %w", ceid, err)
	}

	if reply != nil {
		if ack, ackErr := itemToByte(reply.Item()); ackErr == nil && ack != ackc6Accepted {
			e.logger.Warn("event report not accepted", "ceid", ceid, "ackc6", ack)
		}
	}
	return nil
}

// QueryEvent answers an on-demand event report request. The second return
// value is false for an unknown event id. A fresh snapshot is served as-is
// and never overwritten; only when no fresh snapshot exists are live values
// captured and cached.
func (e *ReportEngine) QueryEvent(ceid uint32) (*EventReportData, bool) {
	e.mu.RLock()
	_, known := e.known[ceid]
	e.mu.RUnlock()

	if !known {
		return nil, false
	}

	_, hadFresh := e.snapshots.get(ceid)
	data := e.collect(ceid, true)
	if !hadFresh {
		e.storeSnapshot(data)
	}
	return data, true
}

// collect assembles the event's report data. The report/link tables are
// copied under the read lock so a concurrent define or link can never be
// observed half-applied; variable reads happen outside the lock because they
// may block on hardware I/O.
func (e *ReportEngine) collect(ceid uint32, useSnapshot bool) *EventReportData {
	type reportSpec struct {
		id   uint32
		vids []uint32
	}

	e.mu.RLock()
	rptids := e.links[ceid]
	if len(rptids) == 0 && e.defaultReportID != 0 {
		rptids = []uint32{e.defaultReportID}
	}
	specs := make([]reportSpec, 0, len(rptids))
	for _, rptid := range rptids {
		vids, ok := e.reportVariablesLocked(rptid)
		if !ok {
			continue
		}
		specs = append(specs, reportSpec{id: rptid, vids: vids})
	}
	e.mu.RUnlock()

	var cached map[uint32]secs2.Item
	if useSnapshot {
		if snap, ok := e.snapshots.get(ceid); ok {
			cached = snap.Values
		}
	}

	data := &EventReportData{
		EventID:  ceid,
		Reports:  make([]ReportValues, 0, len(specs)),
		Captured: time.Now(),
	}
	for _, spec := range specs {
		values := make([]secs2.Item, 0, len(spec.vids))
		for _, vid := range spec.vids {
			values = append(values, e.resolveValue(vid, cached))
		}
		data.Reports = append(data.Reports, ReportValues{ReportID: spec.id, Values: values})
	}
	return data
}

func (e *ReportEngine) resolveValue(vid uint32, cached map[uint32]secs2.Item) secs2.Item {
	if item, ok := cached[vid]; ok {
		return item
	}
	item, err := e.vars.Read(vid)
	if err != nil || item == nil {
		if err != nil {
			e.logger.Warn("variable read failed", "vid", vid, "error", err)
		}
		return secs2.NewEmptyItem()
	}
	return item
}

func (e *ReportEngine) storeSnapshot(data *EventReportData) {
	values := make(map[uint32]secs2.Item)
	e.mu.RLock()
	for _, rpt := range data.Reports {
		vids, ok := e.reportVariablesLocked(rpt.ReportID)
		if !ok || len(vids) != len(rpt.Values) {
			continue
		}
		for i, vid := range vids {
			values[vid] = rpt.Values[i]
		}
	}
	e.mu.RUnlock()

	e.snapshots.put(&EventSnapshot{
		EventID:    data.EventID,
		CapturedAt: data.Captured,
		Values:     values,
	})
}

// SweepSnapshots purges expired snapshots; intended for a low-priority
// periodic caller.
func (e *ReportEngine) SweepSnapshots() {
	if removed := e.snapshots.sweep(); removed > 0 {
		e.logger.Debug("purged expired event snapshots", "count", removed)
	}
}

func (e *ReportEngine) reportVariablesLocked(rptid uint32) ([]uint32, bool) {
	if rptid == e.defaultReportID && e.defaultReportID != 0 {
		return append([]uint32(nil), e.defaultReportVIDs...), true
	}
	vids, ok := e.reports[rptid]
	if !ok {
		return nil, false
	}
	return append([]uint32(nil), vids...), true
}

// ReportVariables returns the ordered variable list of a defined report.
func (e *ReportEngine) ReportVariables(rptid uint32) ([]uint32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reportVariablesLocked(rptid)
}

// LinkedReports returns the report ids currently linked to an event.
func (e *ReportEngine) LinkedReports(ceid uint32) []uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]uint32(nil), e.links[ceid]...)
}

// DefinedReports returns the host-defined report ids in ascending order.
func (e *ReportEngine) DefinedReports() []uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]uint32, 0, len(e.reports))
	for id := range e.reports {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// EventEnabled reports whether event reporting is enabled for ceid.
func (e *ReportEngine) EventEnabled(ceid uint32) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled[ceid]
}
