package hal

import "gpiobridge-go/types"

// PinTable is the compiled-in descriptor set for the 40-pin header.
// BCM numbering; physical positions follow the standard header layout.
// PWM capability marks the hardware PWM channels (BCM 12/13/18/19).
var PinTable = []types.PinSpec{
	{Number: 4, Physical: 7, Direction: types.DirInput, Subtype: types.SubtypeSensor},
	{Number: 17, Physical: 11, Direction: types.DirOutput, Subtype: types.SubtypePump},
	{Number: 27, Physical: 13, Direction: types.DirOutput, Subtype: types.SubtypePump},
	{Number: 22, Physical: 15, Direction: types.DirOutput, Subtype: types.SubtypeMotor},
	{Number: 5, Physical: 29, Direction: types.DirOutput, Subtype: types.SubtypeMotor},
	{Number: 6, Physical: 31, Direction: types.DirOutput, Subtype: types.SubtypeGeneric},
	{Number: 12, Physical: 32, Direction: types.DirOutput, Subtype: types.SubtypeLight, PWMCapable: true},
	{Number: 13, Physical: 33, Direction: types.DirOutput, Subtype: types.SubtypePump, PWMCapable: true},
	{Number: 16, Physical: 36, Direction: types.DirOutput, Subtype: types.SubtypeGeneric},
	{Number: 18, Physical: 12, Direction: types.DirOutput, Subtype: types.SubtypeLight, PWMCapable: true},
	{Number: 19, Physical: 35, Direction: types.DirOutput, Subtype: types.SubtypeLight, PWMCapable: true},
	{Number: 20, Physical: 38, Direction: types.DirInput, Subtype: types.SubtypeSensor},
	{Number: 21, Physical: 40, Direction: types.DirInput, Subtype: types.SubtypeSensor},
	{Number: 23, Physical: 16, Direction: types.DirOutput, Subtype: types.SubtypeGeneric},
	{Number: 24, Physical: 18, Direction: types.DirOutput, Subtype: types.SubtypeGeneric},
	{Number: 25, Physical: 22, Direction: types.DirOutput, Subtype: types.SubtypeLight},
	{Number: 26, Physical: 37, Direction: types.DirOutput, Subtype: types.SubtypeGeneric},
}

// SpecFor looks up a pin's static descriptor.
func SpecFor(pin int) (types.PinSpec, bool) {
	for _, s := range PinTable {
		if s.Number == pin {
			return s, true
		}
	}
	return types.PinSpec{}, false
}

// OutputPins returns the output subset of the table.
func OutputPins() []types.PinSpec {
	var out []types.PinSpec
	for _, s := range PinTable {
		if s.IsOutput() {
			out = append(out, s)
		}
	}
	return out
}
