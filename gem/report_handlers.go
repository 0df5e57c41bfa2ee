package gem

import (
	"fmt"

	"github.com/arloliu/go-secs/secs2"
)

// Message-level parsing and building for the S2Fxx report configuration and
// S6Fxx event report services. The handlers themselves live on
// EquipmentHandler; everything here is shape work.

// parseReportEntries decodes the S2F33 body:
//
//	<L[2] <DATAID> <L[n] <L[2] <RPTID> <L[a] VID ...>> ...>>
func parseReportEntries(item secs2.Item) ([]ReportEntry, error) {
	root, err := item.ToList()
	if err != nil {
		return nil, fmt.Errorf("%w: S2F33 body not a list", errMalformedItem)
	}
	if len(root) < 2 {
		return nil, fmt.Errorf("%w: S2F33 body needs DATAID and report list", errMalformedItem)
	}

	entryItems, err := root[1].ToList()
	if err != nil {
		return nil, fmt.Errorf("%w: S2F33 report list not a list", errMalformedItem)
	}

	entries := make([]ReportEntry, 0, len(entryItems))
	for _, entryItem := range entryItems {
		pair, err := entryItem.ToList()
		if err != nil || len(pair) < 2 {
			return nil, fmt.Errorf("%w: S2F33 report entry", errMalformedItem)
		}
		rptid, err := itemToUint32(pair[0])
		if err != nil {
			return nil, err
		}
		vids, err := itemToUint32List(pair[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, ReportEntry{ReportID: rptid, VariableIDs: vids})
	}
	return entries, nil
}

// parseLinkEntries decodes the S2F35 body:
//
//	<L[2] <DATAID> <L[n] <L[2] <CEID> <L[a] RPTID ...>> ...>>
func parseLinkEntries(item secs2.Item) ([]LinkEntry, error) {
	root, err := item.ToList()
	if err != nil {
		return nil, fmt.Errorf("%w: S2F35 body not a list", errMalformedItem)
	}
	if len(root) < 2 {
		return nil, fmt.Errorf("%w: S2F35 body needs DATAID and link list", errMalformedItem)
	}

	entryItems, err := root[1].ToList()
	if err != nil {
		return nil, fmt.Errorf("%w: S2F35 link list not a list", errMalformedItem)
	}

	entries := make([]LinkEntry, 0, len(entryItems))
	for _, entryItem := range entryItems {
		pair, err := entryItem.ToList()
		if err != nil || len(pair) < 2 {
			return nil, fmt.Errorf("%w: S2F35 link entry", errMalformedItem)
		}
		ceid, err := itemToUint32(pair[0])
		if err != nil {
			return nil, err
		}
		rptids, err := itemToUint32List(pair[1])
		if err != nil {
			return nil, err
		}
		entries = append(entries, LinkEntry{EventID: ceid, ReportIDs: rptids})
	}
	return entries, nil
}

// parseEventEnable decodes the S2F37 body:
//
//	<L[2] <CEED boolean> <L[n] CEID ...>>
func parseEventEnable(item secs2.Item) (bool, []uint32, error) {
	root, err := item.ToList()
	if err != nil || len(root) < 2 {
		return false, nil, fmt.Errorf("%w: S2F37 body", errMalformedItem)
	}

	var enable bool
	if flags, err := root[0].ToBoolean(); err == nil && len(flags) > 0 {
		enable = flags[0]
	} else if flag, err := itemToByte(root[0]); err == nil {
		enable = flag != 0
	} else {
		return false, nil, fmt.Errorf("%w: S2F37 CEED", errMalformedItem)
	}

	ceids, err := itemToUint32List(root[1])
	if err != nil {
		return false, nil, err
	}
	return enable, ceids, nil
}

// parseEventRequest decodes the S6F15 body, accepting either a bare CEID or
// a single-element list.
func parseEventRequest(item secs2.Item) (uint32, error) {
	if item.IsList() {
		first, err := listElement(item, 0)
		if err != nil {
			return 0, err
		}
		return itemToUint32(first)
	}
	return itemToUint32(item)
}

// buildEventReport assembles an S6F11/S6F16 body:
//
//	<L[3] <DATAID> <CEID> <L[n] <L[2] <RPTID> <L[a] value ...>> ...>>
//
// S6F11 carries the wait bit; S6F16 is built through Message.Reply instead.
func buildEventReport(stream, function uint8, data *EventReportData) *Message {
	return NewMessage(stream, function, function%2 == 1, buildEventReportItem(data))
}

func buildEventReportItem(data *EventReportData) secs2.Item {
	reportItems := make([]secs2.Item, 0, len(data.Reports))
	for _, rpt := range data.Reports {
		reportItems = append(reportItems, secs2.L(
			secs2.U4(uint64(rpt.ReportID)),
			secs2.L(rpt.Values...),
		))
	}

	return secs2.L(
		secs2.U4(uint64(data.DataID)),
		secs2.U4(uint64(data.EventID)),
		secs2.L(reportItems...),
	)
}

// buildEmptyEventReportItem answers S6F15 for an unrecognized CEID: zero
// DATAID, the echoed CEID and an empty report list.
func buildEmptyEventReportItem(ceid uint32) secs2.Item {
	return secs2.L(
		secs2.U4(uint64(0)),
		secs2.U4(uint64(ceid)),
		secs2.L(),
	)
}
