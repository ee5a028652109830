package types

// Events carried on the internal bus between the document listeners and
// the consuming components.

// DesiredChange is emitted when the remote desired state of a pin moves.
type DesiredChange struct {
	Pin   int
	State bool
}

type ScheduleEventKind string

const (
	ScheduleAdd    ScheduleEventKind = "add"
	ScheduleModify ScheduleEventKind = "modify"
	ScheduleRemove ScheduleEventKind = "remove"
)

// ScheduleEvent is the listener's diff of the remote schedule map against
// the in-memory registry.
type ScheduleEvent struct {
	Kind ScheduleEventKind
	Pin  int
	ID   string
	Spec Schedule // zero value for remove
}

// BridgeState is published retained on bridge/state.
type BridgeState struct {
	Level  string `json:"level"` // starting | running | stopping | stopped
	Status string `json:"status"`
	TSMS   int64  `json:"ts_ms"`
}
