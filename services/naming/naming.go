// Package naming generates and maintains pin display names. Defaults are
// derived from the static pin table; a name the operator customized is
// never rewritten.
package naming

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gpiobridge-go/errcode"
	"gpiobridge-go/store"
	"gpiobridge-go/types"
)

// legacyDefaults are the hardcoded names earlier firmware wrote. A
// non-customized name still matching one of these is migrated to the
// current convention.
func legacyDefaults(spec types.PinSpec) []string {
	return []string{
		fmt.Sprintf("Pin %d", spec.Number),
		fmt.Sprintf("GPIO %d", spec.Number),
		fmt.Sprintf("GPIO%d", spec.Number),
	}
}

// DefaultName builds the current smart default for a pin.
func DefaultName(spec types.PinSpec) string {
	return fmt.Sprintf("GPIO%d (PIN%d) - %s (%s)",
		spec.Number, spec.Physical, strings.ToUpper(string(spec.Subtype)), capability(spec))
}

func capability(spec types.PinSpec) string {
	switch {
	case spec.Direction == types.DirInput:
		return "digital input"
	case spec.PWMCapable:
		return "PWM-capable output"
	default:
		return "digital output"
	}
}

func kindOf(spec types.PinSpec) string {
	if spec.Direction == types.DirInput {
		return "sensor"
	}
	return "actuator"
}

func modeOf(spec types.PinSpec) string {
	if spec.Direction == types.DirInput {
		return "input"
	}
	return "output"
}

type Namer struct {
	cli        store.Client
	devicePath string
	pins       map[int]types.PinSpec
	log        *zap.SugaredLogger
}

func New(cli store.Client, devicePath string, pins []types.PinSpec, log *zap.SugaredLogger) *Namer {
	byNum := make(map[int]types.PinSpec, len(pins))
	for _, spec := range pins {
		byNum[spec.Number] = spec
	}
	return &Namer{cli: cli, devicePath: devicePath, pins: byNum, log: log}
}

// BootstrapPass builds the gpioState skeleton for every table pin against
// the document as read at startup and submits it as one merge write.
// Customized names are left alone; stale non-customized defaults are
// migrated to the current convention.
func (n *Namer) BootstrapPass(ctx context.Context, doc map[string]any) error {
	gpio, _ := doc["gpioState"].(map[string]any)

	pinsOut := map[string]any{}
	for _, spec := range n.pins {
		key := fmt.Sprintf("%d", spec.Number)
		entry, _ := gpio[key].(map[string]any)
		pinsOut[key] = n.skeleton(spec, entry)
	}

	return n.cli.Set(ctx, n.devicePath, map[string]any{"gpioState": pinsOut}, true)
}

// skeleton computes the controller-owned fields for one pin. The name
// field is only included when this pass is allowed to (re)write it.
func (n *Namer) skeleton(spec types.PinSpec, entry map[string]any) map[string]any {
	def := DefaultName(spec)
	out := map[string]any{
		"default_name": def,
		"type":         kindOf(spec),
		"subtype":      string(spec.Subtype),
		"mode":         modeOf(spec),
		"pwm_capable":  spec.PWMCapable,
	}

	if entry == nil {
		out["name"] = def
		out["name_customized"] = false
		return out
	}

	customized, _ := types.AsBool(entry["name_customized"])
	if customized {
		return out
	}

	name, hasName := types.AsString(entry["name"])
	switch {
	case !hasName:
		out["name"] = def
		out["name_customized"] = false
	case name == def:
		// Already current.
	default:
		for _, legacy := range legacyDefaults(spec) {
			if name == legacy {
				n.log.Infow("migrating legacy pin name", "pin", spec.Number, "from", name)
				out["name"] = def
				break
			}
		}
	}
	return out
}

// RenamePin records an operator-chosen name. Renaming to the current name
// leaves the document untouched.
func (n *Namer) RenamePin(ctx context.Context, pin int, name string) error {
	if _, ok := n.pins[pin]; !ok {
		return errcode.Wrap(errcode.UnknownPin, "naming.rename", fmt.Sprintf("pin %d", pin), nil)
	}
	doc, err := n.cli.Get(ctx, n.devicePath)
	if err != nil {
		return err
	}
	if current, ok := pinField(doc, pin, "name"); ok && current == name {
		return nil
	}
	return n.cli.Update(ctx, n.devicePath, map[string]any{
		fmt.Sprintf("gpioState.%d.name", pin):            name,
		fmt.Sprintf("gpioState.%d.name_customized", pin): true,
		fmt.Sprintf("gpioState.%d.customized_at", pin):   store.ServerTimestamp,
	})
}

// ResetPinName regenerates the smart default and clears the customization.
func (n *Namer) ResetPinName(ctx context.Context, pin int) error {
	spec, ok := n.pins[pin]
	if !ok {
		return errcode.Wrap(errcode.UnknownPin, "naming.reset", fmt.Sprintf("pin %d", pin), nil)
	}
	def := DefaultName(spec)
	return n.cli.Update(ctx, n.devicePath, map[string]any{
		fmt.Sprintf("gpioState.%d.name", pin):            def,
		fmt.Sprintf("gpioState.%d.default_name", pin):    def,
		fmt.Sprintf("gpioState.%d.name_customized", pin): false,
		fmt.Sprintf("gpioState.%d.customized_at", pin):   nil,
	})
}

func pinField(doc map[string]any, pin int, field string) (string, bool) {
	gpio, ok := doc["gpioState"].(map[string]any)
	if !ok {
		return "", false
	}
	entry, ok := gpio[fmt.Sprintf("%d", pin)].(map[string]any)
	if !ok {
		return "", false
	}
	return types.AsString(entry[field])
}
