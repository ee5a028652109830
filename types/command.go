package types

import (
	"fmt"

	"gpiobridge-go/errcode"
)

type CommandType string

const (
	CmdPinControl CommandType = "pin_control"
	CmdPWMControl CommandType = "pwm_control"
)

type CommandAction string

const (
	ActionOn  CommandAction = "on"
	ActionOff CommandAction = "off"
)

// Command is one operator instruction, consumed exactly once.
type Command struct {
	ID         string        `json:"id"`
	Type       CommandType   `json:"type"`
	Pin        int           `json:"pin"`
	Action     CommandAction `json:"action"`
	DurationMS int           `json:"duration_ms,omitempty"` // auto-off after elapse; 0 = none
	Duty       int           `json:"duty,omitempty"`        // 0..100, pwm_control only
}

// Validate checks the command against the schema rules. Failures are
// DocumentSchema errors: the processor responds "error" and deletes the
// document without touching hardware.
func (c Command) Validate() error {
	if !ValidPin(c.Pin) {
		return errcode.Wrap(errcode.InvalidParams, "command.validate", fmt.Sprintf("pin %d out of range", c.Pin), nil)
	}
	switch c.Type {
	case CmdPinControl:
		if c.Action != ActionOn && c.Action != ActionOff {
			return errcode.Wrap(errcode.InvalidParams, "command.validate", fmt.Sprintf("bad action %q", c.Action), nil)
		}
		if c.DurationMS < 0 {
			return errcode.Wrap(errcode.InvalidParams, "command.validate", "negative duration_ms", nil)
		}
	case CmdPWMControl:
		if !validDuty(c.Duty) {
			return errcode.Wrap(errcode.InvalidParams, "command.validate", fmt.Sprintf("duty %d outside 0..100", c.Duty), nil)
		}
	default:
		return errcode.Wrap(errcode.InvalidParams, "command.validate", fmt.Sprintf("unknown type %q", c.Type), nil)
	}
	return nil
}

// CommandResponse is recorded under responses/<command_id> before the
// command document is deleted.
type CommandResponse struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message,omitempty"`
}
