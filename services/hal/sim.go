package hal

import (
	"fmt"
	"sync"

	"gpiobridge-go/errcode"
	"gpiobridge-go/types"
)

// InputSource supplies levels for simulated input pins.
type InputSource func(pin int) bool

type simPin struct {
	dir        types.Direction
	pwmCapable bool
	level      bool
	duty       int
	pwmActive  bool
}

// Simulator keeps pin state in a map and serves reads from the last value
// written, or from the input source for input pins. Deterministic; safe for
// concurrent use.
type Simulator struct {
	mu     sync.Mutex
	pins   map[int]*simPin
	source InputSource

	// Writes counts SetDigital/SetPWM calls per pin, for tests.
	writes map[int]int
}

func NewSimulator() *Simulator {
	return &Simulator{
		pins:   map[int]*simPin{},
		source: func(int) bool { return false },
		writes: map[int]int{},
	}
}

// SetInputSource replaces the level source for input pins.
func (s *Simulator) SetInputSource(src InputSource) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

func (s *Simulator) Configure(pin int, dir types.Direction, pwmCapable bool) error {
	if !types.ValidPin(pin) {
		return errcode.Wrap(errcode.UnknownPin, "sim.configure", fmt.Sprintf("GPIO%d", pin), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pins[pin]; ok {
		cur.dir = dir
		cur.pwmCapable = pwmCapable
		return nil
	}
	s.pins[pin] = &simPin{dir: dir, pwmCapable: pwmCapable}
	return nil
}

func (s *Simulator) SetDigital(pin int, level bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return errcode.Wrap(errcode.UnknownPin, "sim.set_digital", fmt.Sprintf("GPIO%d not configured", pin), nil)
	}
	if p.dir != types.DirOutput {
		return errcode.Wrap(errcode.PinNotOutput, "sim.set_digital", fmt.Sprintf("GPIO%d", pin), nil)
	}
	p.level = level
	p.pwmActive = false
	s.writes[pin]++
	return nil
}

func (s *Simulator) ReadDigital(pin int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return false, errcode.Wrap(errcode.UnknownPin, "sim.read_digital", fmt.Sprintf("GPIO%d not configured", pin), nil)
	}
	if p.dir == types.DirInput {
		return s.source(pin), nil
	}
	return p.level, nil
}

func (s *Simulator) SetPWM(pin, duty, freqHz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[pin]
	if !ok {
		return errcode.Wrap(errcode.UnknownPin, "sim.set_pwm", fmt.Sprintf("GPIO%d not configured", pin), nil)
	}
	if !p.pwmCapable {
		return errcode.Wrap(errcode.PWMUnsupported, "sim.set_pwm", fmt.Sprintf("GPIO%d", pin), nil)
	}
	if duty < 0 || duty > 100 {
		return errcode.Wrap(errcode.InvalidParams, "sim.set_pwm", fmt.Sprintf("duty %d", duty), nil)
	}
	p.duty = duty
	p.pwmActive = true
	p.level = duty > 0
	s.writes[pin]++
	return nil
}

func (s *Simulator) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = map[int]*simPin{}
	return nil
}

// Level reports the currently driven level of a configured pin (tests).
func (s *Simulator) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pins[pin]; ok {
		return p.level
	}
	return false
}

// Duty reports the last PWM duty written to a pin (tests).
func (s *Simulator) Duty(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pins[pin]; ok {
		return p.duty
	}
	return 0
}

// WriteCount reports how many digital/PWM writes hit a pin (tests).
func (s *Simulator) WriteCount(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[pin]
}
