package gem

import (
	"errors"
	"testing"
	"time"

	"github.com/arloliu/go-secs/secs2"
)

func newTestVariables(t *testing.T, ids ...uint32) *VariableTable {
	t.Helper()

	table := NewVariableTable()
	for _, id := range ids {
		v, err := NewVariable(id, "", "", WithValue(secs2.U4(uint64(id*10))))
		if err != nil {
			t.Fatalf("new variable %d: %v", id, err)
		}
		if err := table.Register(v); err != nil {
			t.Fatalf("register variable %d: %v", id, err)
		}
	}
	return table
}

func newTestReportEngine(t *testing.T, transport Transport) *ReportEngine {
	t.Helper()

	engine, err := NewReportEngine(ReportEngineConfig{
		Transport: transport,
		Variables: newTestVariables(t, 1, 4, 7),
		Limits: ReportLimits{
			MaxReports:            4,
			MaxVariablesPerReport: 3,
			MinReportID:           1,
			MaxReportID:           4999,
		},
		Delivery:               DeliveryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
		Events:                 []uint32{11004, 11005},
		SystemEvents:           []uint32{12001},
		DefaultReportID:        5001,
		DefaultReportVariables: []uint32{1},
		SnapshotTTL:            time.Minute,
	})
	if err != nil {
		t.Fatalf("new report engine: %v", err)
	}
	return engine
}

func TestDefineReportsValidation(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	tests := []struct {
		name    string
		entries []ReportEntry
		want    int
	}{
		{
			name: "duplicate rptid",
			entries: []ReportEntry{
				{ReportID: 2000, VariableIDs: []uint32{1}},
				{ReportID: 2000, VariableIDs: []uint32{4}},
			},
			want: drAckDuplicateRPTID,
		},
		{
			name:    "rptid outside partition",
			entries: []ReportEntry{{ReportID: 5001, VariableIDs: []uint32{1}}},
			want:    drAckInvalidFormat,
		},
		{
			name:    "unknown vid",
			entries: []ReportEntry{{ReportID: 2000, VariableIDs: []uint32{99}}},
			want:    drAckUnknownVID,
		},
		{
			name:    "too many vids",
			entries: []ReportEntry{{ReportID: 2000, VariableIDs: []uint32{1, 4, 7, 1}}},
			want:    drAckInsufficientSpace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.DefineReports(tt.entries); got != tt.want {
				t.Fatalf("DefineReports: got DRACK %d, want %d", got, tt.want)
			}
			if ids := engine.DefinedReports(); len(ids) != 0 {
				t.Fatalf("rejected batch mutated the table: %v", ids)
			}
		})
	}
}

func TestDefineReportsAllOrNothing(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	drack := engine.DefineReports([]ReportEntry{
		{ReportID: 2000, VariableIDs: []uint32{1}},
		{ReportID: 2001, VariableIDs: []uint32{99}},
	})
	if drack != drAckUnknownVID {
		t.Fatalf("got DRACK %d, want %d", drack, drAckUnknownVID)
	}
	if ids := engine.DefinedReports(); len(ids) != 0 {
		t.Fatalf("partial mutation applied: %v", ids)
	}
}

func TestDefineReportsMaxReports(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	entries := []ReportEntry{
		{ReportID: 2000, VariableIDs: []uint32{1}},
		{ReportID: 2001, VariableIDs: []uint32{1}},
		{ReportID: 2002, VariableIDs: []uint32{1}},
		{ReportID: 2003, VariableIDs: []uint32{1}},
	}
	if drack := engine.DefineReports(entries); drack != drAckOK {
		t.Fatalf("got DRACK %d, want 0", drack)
	}

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2004, VariableIDs: []uint32{1}}}); drack != drAckInsufficientSpace {
		t.Fatalf("got DRACK %d, want %d", drack, drAckInsufficientSpace)
	}
}

func TestDefineReportsIdempotent(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	entries := []ReportEntry{{ReportID: 2000, VariableIDs: []uint32{1, 4}}}
	for i := 0; i < 2; i++ {
		if drack := engine.DefineReports(entries); drack != drAckOK {
			t.Fatalf("round %d: got DRACK %d, want 0", i, drack)
		}
	}

	vids, ok := engine.ReportVariables(2000)
	if !ok || len(vids) != 2 || vids[0] != 1 || vids[1] != 4 {
		t.Fatalf("unexpected report variables: %v (ok=%v)", vids, ok)
	}
}

func TestDefineReportsEmptyVidListDeletes(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000, VariableIDs: []uint32{1}}}); drack != drAckOK {
		t.Fatalf("define: DRACK %d", drack)
	}
	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004, ReportIDs: []uint32{2000}}}); lrack != lrAckOK {
		t.Fatalf("link: LRACK %d", lrack)
	}

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000}}); drack != drAckOK {
		t.Fatalf("delete: DRACK %d", drack)
	}
	if _, ok := engine.ReportVariables(2000); ok {
		t.Fatal("report 2000 still defined after delete")
	}
	if links := engine.LinkedReports(11004); len(links) != 0 {
		t.Fatalf("stale links survived report deletion: %v", links)
	}

	// Deleting a nonexistent report is a no-op success.
	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000}}); drack != drAckOK {
		t.Fatalf("re-delete: DRACK %d", drack)
	}
}

func TestDeleteAllReportsRevertsSystemLinks(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000, VariableIDs: []uint32{4}}}); drack != drAckOK {
		t.Fatalf("define: DRACK %d", drack)
	}
	if lrack := engine.LinkReports([]LinkEntry{
		{EventID: 11004, ReportIDs: []uint32{2000}},
		{EventID: 12001, ReportIDs: []uint32{2000}},
	}); lrack != lrAckOK {
		t.Fatalf("link: LRACK %d", lrack)
	}

	if drack := engine.DefineReports(nil); drack != drAckOK {
		t.Fatalf("delete all: DRACK %d", drack)
	}

	if links := engine.LinkedReports(11004); len(links) != 0 {
		t.Fatalf("non-system links survived delete-all: %v", links)
	}
	links := engine.LinkedReports(12001)
	if len(links) != 1 || links[0] != 5001 {
		t.Fatalf("system event not reverted to default report: %v", links)
	}
}

func TestLinkReportsValidation(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000, VariableIDs: []uint32{1}}}); drack != drAckOK {
		t.Fatalf("define: DRACK %d", drack)
	}

	if lrack := engine.LinkReports([]LinkEntry{{EventID: 999, ReportIDs: []uint32{2000}}}); lrack != lrAckUnknownCEID {
		t.Fatalf("unknown ceid: LRACK %d", lrack)
	}
	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004, ReportIDs: []uint32{3000}}}); lrack != lrAckUnknownRPTID {
		t.Fatalf("unknown rptid: LRACK %d", lrack)
	}
	if lrack := engine.LinkReports([]LinkEntry{{EventID: 12001}}); lrack != lrAckLinkRejected {
		t.Fatalf("system unlink: LRACK %d", lrack)
	}
	if lrack := engine.LinkReports([]LinkEntry{
		{EventID: 11004, ReportIDs: []uint32{2000}},
		{EventID: 11004, ReportIDs: []uint32{2000}},
	}); lrack != lrAckInvalidFormat {
		t.Fatalf("duplicate ceid: LRACK %d", lrack)
	}
}

func TestLinkReportsReplacesSet(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if drack := engine.DefineReports([]ReportEntry{
		{ReportID: 2000, VariableIDs: []uint32{1}},
		{ReportID: 2001, VariableIDs: []uint32{4}},
	}); drack != drAckOK {
		t.Fatalf("define: DRACK %d", drack)
	}

	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004, ReportIDs: []uint32{2000}}}); lrack != lrAckOK {
		t.Fatalf("link: LRACK %d", lrack)
	}
	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004, ReportIDs: []uint32{2001}}}); lrack != lrAckOK {
		t.Fatalf("relink: LRACK %d", lrack)
	}

	links := engine.LinkedReports(11004)
	if len(links) != 1 || links[0] != 2001 {
		t.Fatalf("link set not replaced: %v", links)
	}

	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004}}); lrack != lrAckOK {
		t.Fatalf("unlink: LRACK %d", lrack)
	}
	if links := engine.LinkedReports(11004); len(links) != 0 {
		t.Fatalf("links survived empty-list unlink: %v", links)
	}
}

func TestFireEventDeliversReport(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestReportEngine(t, transport)

	if drack := engine.DefineReports([]ReportEntry{{ReportID: 2000, VariableIDs: []uint32{1, 4}}}); drack != drAckOK {
		t.Fatalf("define: DRACK %d", drack)
	}
	if lrack := engine.LinkReports([]LinkEntry{{EventID: 11004, ReportIDs: []uint32{2000}}}); lrack != lrAckOK {
		t.Fatalf("link: LRACK %d", lrack)
	}

	if err := engine.FireEvent(11004); err != nil {
		t.Fatalf("fire event: %v", err)
	}

	msg := transport.lastSent()
	if msg == nil || msg.StreamCode() != 6 || msg.FunctionCode() != 11 {
		t.Fatalf("expected S6F11, got %v", msg)
	}

	root, err := msg.Item().ToList()
	if err != nil || len(root) != 3 {
		t.Fatalf("malformed S6F11 body: %v", err)
	}
	ceid, err := itemToUint32(root[1])
	if err != nil || ceid != 11004 {
		t.Fatalf("CEID: got %d (%v)", ceid, err)
	}

	reports, err := root[2].ToList()
	if err != nil || len(reports) != 1 {
		t.Fatalf("report list: %v", err)
	}
	pair, err := reports[0].ToList()
	if err != nil || len(pair) != 2 {
		t.Fatalf("report entry: %v", err)
	}
	rptid, _ := itemToUint32(pair[0])
	if rptid != 2000 {
		t.Fatalf("RPTID: got %d", rptid)
	}
	values, err := pair[1].ToList()
	if err != nil || len(values) != 2 {
		t.Fatalf("value list: %v", err)
	}
}

// A transport may complete a send without surfacing a reply message; the
// delivery still counts as successful.
func TestFireEventToleratesMissingReply(t *testing.T) {
	transport := newFakeTransport()
	transport.queueReply(6, 11, nil)
	engine := newTestReportEngine(t, transport)

	if err := engine.FireEvent(11004); err != nil {
		t.Fatalf("fire event without reply: %v", err)
	}
	if n := transport.sentCount(6, 11); n != 1 {
		t.Fatalf("S6F11 sent %d times, want 1", n)
	}
	if _, ok := engine.QueryEvent(11004); !ok {
		t.Fatal("snapshot should survive a reply-less delivery")
	}
}

func TestFireEventUnknownAndDisabled(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if err := engine.FireEvent(999); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("unknown event: got %v", err)
	}

	if ok := engine.SetEventsEnabled(false, []uint32{11004}); !ok {
		t.Fatal("disable event rejected")
	}
	if err := engine.FireEvent(11004); !errors.Is(err, ErrEventDisabled) {
		t.Fatalf("disabled event: got %v", err)
	}
}

func TestSetEventsEnabledUnknownRejectsBatch(t *testing.T) {
	engine := newTestReportEngine(t, newFakeTransport())

	if ok := engine.SetEventsEnabled(false, []uint32{11004, 999}); ok {
		t.Fatal("batch with unknown ceid accepted")
	}
	if !engine.EventEnabled(11004) {
		t.Fatal("rejected batch mutated enable flags")
	}

	if ok := engine.SetEventsEnabled(false, nil); !ok {
		t.Fatal("disable-all rejected")
	}
	if engine.EventEnabled(11004) || engine.EventEnabled(12001) {
		t.Fatal("disable-all left events enabled")
	}
}

func TestUnlinkedEventFallsBackToDefaultReport(t *testing.T) {
	transport := newFakeTransport()
	engine := newTestReportEngine(t, transport)

	if err := engine.FireEvent(11005); err != nil {
		t.Fatalf("fire event: %v", err)
	}

	msg := transport.lastSent()
	root, err := msg.Item().ToList()
	if err != nil {
		t.Fatalf("S6F11 body: %v", err)
	}
	reports, _ := root[2].ToList()
	if len(reports) != 1 {
		t.Fatalf("expected default report fallback, got %d reports", len(reports))
	}
	pair, _ := reports[0].ToList()
	rptid, _ := itemToUint32(pair[0])
	if rptid != 5001 {
		t.Fatalf("RPTID: got %d, want default 5001", rptid)
	}
}

func TestQueryEventServesFreshSnapshot(t *testing.T) {
	transport := newFakeTransport()
	vars := newTestVariables(t, 1, 4)
	engine, err := NewReportEngine(ReportEngineConfig{
		Transport:              transport,
		Variables:              vars,
		Limits:                 ReportLimits{MaxReports: 4, MaxVariablesPerReport: 3, MinReportID: 1, MaxReportID: 4999},
		Delivery:               DeliveryPolicy{MaxAttempts: 1, Backoff: time.Millisecond},
		Events:                 []uint32{11004},
		DefaultReportID:        5001,
		DefaultReportVariables: []uint32{1},
		SnapshotTTL:            time.Minute,
	})
	if err != nil {
		t.Fatalf("new report engine: %v", err)
	}

	if err := engine.FireEvent(11004); err != nil {
		t.Fatalf("fire event: %v", err)
	}

	// Mutate the live value; the fresh snapshot must win.
	v, _ := vars.Lookup(1)
	v.SetValue(secs2.U4(uint64(999)))

	data, known := engine.QueryEvent(11004)
	if !known {
		t.Fatal("event 11004 reported unknown")
	}
	if len(data.Reports) != 1 || len(data.Reports[0].Values) != 1 {
		t.Fatalf("unexpected report shape: %+v", data)
	}
	values, err := data.Reports[0].Values[0].ToUint()
	if err != nil || len(values) == 0 || values[0] != 10 {
		t.Fatalf("expected snapshot value 10, got %v (%v)", values, err)
	}

	if _, known := engine.QueryEvent(999); known {
		t.Fatal("unknown event answered as known")
	}
}

func TestFireEventRetriesDelivery(t *testing.T) {
	transport := newFakeTransport()
	vars := newTestVariables(t, 1)
	engine, err := NewReportEngine(ReportEngineConfig{
		Transport:              transport,
		Variables:              vars,
		Limits:                 ReportLimits{MaxReports: 4, MaxVariablesPerReport: 3, MinReportID: 1, MaxReportID: 4999},
		Delivery:               DeliveryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		Events:                 []uint32{11004},
		DefaultReportID:        5001,
		DefaultReportVariables: []uint32{1},
		SnapshotTTL:            time.Minute,
	})
	if err != nil {
		t.Fatalf("new report engine: %v", err)
	}

	transport.failNext = 2
	if err := engine.FireEvent(11004); err != nil {
		t.Fatalf("fire event with retries: %v", err)
	}
	if n := transport.sentCount(6, 11); n != 1 {
		t.Fatalf("expected exactly one delivered S6F11, got %d", n)
	}

	// Exhausting the budget keeps the snapshot and surfaces the error.
	transport.failNext = 3
	if err := engine.FireEvent(11004); err == nil {
		t.Fatal("expected delivery failure")
	}
	if _, known := engine.QueryEvent(11004); !known {
		t.Fatal("snapshot lost after failed delivery")
	}
}
