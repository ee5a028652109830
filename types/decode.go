package types

import (
	"encoding/json"
	"strconv"

	"gpiobridge-go/errcode"
)

// Document payloads arrive as map[string]any from the store client. The
// helpers below are deliberately tolerant about numeric kinds (JSON decodes
// to float64, Firestore to int64) and hard about everything else.

// DecodeInto round-trips src through JSON into dst.
func DecodeInto[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// DecodeCommand builds a Command from a raw commands/<id> document.
func DecodeCommand(id string, data map[string]any) (Command, error) {
	cmd := Command{ID: id}
	if s, ok := AsString(data["type"]); ok {
		cmd.Type = CommandType(s)
	}
	if s, ok := AsString(data["action"]); ok {
		cmd.Action = CommandAction(s)
	}
	pin, ok := AsInt(data["pin"])
	if !ok {
		return cmd, errcode.Wrap(errcode.InvalidPayload, "command.decode", "pin is not an integer", nil)
	}
	cmd.Pin = pin
	if v, ok := AsInt(data["duration_ms"]); ok {
		cmd.DurationMS = v
	}
	if v, ok := AsInt(data["duty"]); ok {
		cmd.Duty = v
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// DecodeSchedule builds a Schedule from a raw schedules.<id> map entry.
func DecodeSchedule(id string, data map[string]any) (Schedule, error) {
	s := Schedule{ID: id, StartDuty: 0, EndDuty: 100}
	if v, ok := AsString(data["type"]); ok {
		s.Type = ScheduleType(v)
	}
	s.Enabled, _ = AsBool(data["enabled"])
	if w, ok := data["time_window"].(map[string]any); ok {
		s.Window.Enabled, _ = AsBool(w["enabled"])
		s.Window.Start, _ = AsString(w["start"])
		s.Window.End, _ = AsString(w["end"])
	}
	if v, ok := AsInt(data["cycles"]); ok {
		s.Cycles = v
	}
	if v, ok := AsInt(data["on_duration_ms"]); ok {
		s.OnDurationMS = v
	}
	if v, ok := AsInt(data["off_duration_ms"]); ok {
		s.OffDurationMS = v
	}
	if v, ok := AsInt(data["toggle_interval_ms"]); ok {
		s.ToggleIntervalMS = v
	}
	if v, ok := AsInt(data["total_duration_ms"]); ok {
		s.TotalDurationMS = v
	}
	if v, ok := AsInt(data["steps"]); ok {
		s.Steps = v
	}
	if v, ok := AsInt(data["start_duty"]); ok {
		s.StartDuty = v
	}
	if v, ok := AsInt(data["end_duty"]); ok {
		s.EndDuty = v
	}
	s.State, _ = AsBool(data["state"])
	if v, ok := AsInt(data["hold_duration_ms"]); ok {
		s.HoldDurationMS = v
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// ParsePinKey parses a gpioState map key ("17") into a pin number.
func ParsePinKey(key string) (int, bool) {
	n, err := strconv.Atoi(key)
	if err != nil || !ValidPin(n) {
		return 0, false
	}
	return n, true
}

func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
