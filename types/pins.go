package types

// ---- Pin descriptors ----

// MaxPin is the highest BCM GPIO number addressable on the SoC.
const MaxPin = 53

type Direction string

const (
	DirOutput Direction = "output"
	DirInput  Direction = "input"
)

type Subtype string

const (
	SubtypePump    Subtype = "pump"
	SubtypeLight   Subtype = "light"
	SubtypeMotor   Subtype = "motor"
	SubtypeSensor  Subtype = "sensor"
	SubtypeGeneric Subtype = "generic"
)

// PinSpec is the static descriptor for one GPIO, fixed at compile time.
type PinSpec struct {
	Number     int       `json:"number"`            // BCM number, 0..MaxPin
	Physical   int       `json:"physical_position"` // header pin position
	Direction  Direction `json:"direction"`
	Subtype    Subtype   `json:"subtype"`
	PWMCapable bool      `json:"pwm_capable"`
}

// IsOutput reports whether the pin is driven by the controller.
func (p PinSpec) IsOutput() bool { return p.Direction == DirOutput }

// ValidPin reports whether n is inside the addressable BCM range.
func ValidPin(n int) bool { return n >= 0 && n <= MaxPin }

// ---- Per-pin runtime state ----

// PinState is the in-memory truth for one pin. desired is what the remote
// asked for, hardware is what the HAL last read, lastRemote is the last value
// seen on the remote document (so schedule-driven writes do not self-trigger
// the desired-state listener).
type PinState struct {
	Desired        bool `json:"desired"`
	Hardware       bool `json:"hardware"`
	LastRemote     bool `json:"last_remote"`
	OverrideActive bool `json:"user_override_active"`
	PWMDuty        int  `json:"pwm_duty"` // 0..100, PWM-driven pins only
}
