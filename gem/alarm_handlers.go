package gem

import "github.com/arloliu/go-secs/secs2"

// alarmEnableRequest is a decoded S5F3 body.
type alarmEnableRequest struct {
	enable bool
	// ids is empty when the request addresses every alarm.
	ids []uint32
}

// mode maps the ALED flag and the presence of explicit ids onto an engine
// enable mode. An empty id list means "all alarms".
func (r alarmEnableRequest) mode() AlarmEnableMode {
	switch {
	case r.enable && len(r.ids) == 0:
		return AlarmEnableAllDisableListed
	case !r.enable && len(r.ids) == 0:
		return AlarmDisableAllEnableListed
	case r.enable:
		return AlarmEnableListed
	default:
		return AlarmDisableListed
	}
}

// parseAlarmEnable decodes an S5F3 body:
//
//	<L[2] <ALED binary> <ALID u4 | L[n] u4>>
func parseAlarmEnable(item secs2.Item) (alarmEnableRequest, error) {
	var req alarmEnableRequest

	fields, err := item.ToList()
	if err != nil || len(fields) != 2 {
		return req, errMalformedItem
	}

	aled, err := itemToByte(fields[0])
	if err != nil {
		return req, err
	}
	req.enable = aled&aledEnable != 0

	// The ALID field is either one id, a list of ids, or a zero-length
	// item meaning every alarm.
	if fields[1].Size() == 0 {
		return req, nil
	}
	if ids, err := fields[1].ToList(); err == nil {
		for _, elem := range ids {
			id, err := itemToUint32(elem)
			if err != nil {
				return req, err
			}
			req.ids = append(req.ids, id)
		}
		return req, nil
	}

	id, err := itemToUint32(fields[1])
	if err != nil {
		return req, err
	}
	req.ids = append(req.ids, id)
	return req, nil
}

// parseAlarmSelection decodes the shared S5F5/S5F7 body: a list of ALIDs,
// or a zero-length item selecting every alarm.
func parseAlarmSelection(item secs2.Item) ([]uint32, error) {
	if item == nil || item.Size() == 0 {
		return nil, nil
	}
	if ids, err := itemToUint32List(item); err == nil {
		return ids, nil
	}

	id, err := itemToUint32(item)
	if err != nil {
		return nil, err
	}
	return []uint32{id}, nil
}

// selectAlarms filters statuses down to the requested ids, keeping the
// engine's category-then-id ordering. A nil selection keeps everything.
func selectAlarms(all []AlarmStatus, ids []uint32) []AlarmStatus {
	if len(ids) == 0 {
		return all
	}
	want := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	out := make([]AlarmStatus, 0, len(ids))
	for _, a := range all {
		if _, ok := want[a.ID]; ok {
			out = append(out, a)
		}
	}
	return out
}

// enabledOnly filters statuses down to reportable alarms. The mandatory
// alarms are always part of the result because they can never be disabled.
func enabledOnly(all []AlarmStatus) []AlarmStatus {
	out := make([]AlarmStatus, 0, len(all))
	for _, a := range all {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
