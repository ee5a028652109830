package hal

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"gpiobridge-go/errcode"
	"gpiobridge-go/types"
)

type configuredPin struct {
	pin        gpio.PinIO
	dir        types.Direction
	pwmCapable bool
}

// periphHAL drives real pins through periph.io.
type periphHAL struct {
	mu   sync.Mutex
	log  *zap.SugaredLogger
	pins map[int]*configuredPin
}

// NewPeriph initializes the periph.io host. Failure here is fatal: the
// process cannot run without a working driver.
func NewPeriph(log *zap.SugaredLogger) (HAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap(errcode.Fatal, "hal.periph", "host init failed", err)
	}
	return &periphHAL{log: log, pins: map[int]*configuredPin{}}, nil
}

func (h *periphHAL) Configure(pin int, dir types.Direction, pwmCapable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.pins[pin]; ok && cur.dir == dir {
		return nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return errcode.Wrap(errcode.UnknownPin, "hal.configure", fmt.Sprintf("GPIO%d not present", pin), nil)
	}
	var err error
	switch dir {
	case types.DirInput:
		err = p.In(gpio.PullNoChange, gpio.NoEdge)
	case types.DirOutput:
		err = p.Out(gpio.Low)
	default:
		return errcode.Wrap(errcode.InvalidParams, "hal.configure", fmt.Sprintf("bad direction %q", dir), nil)
	}
	if err != nil {
		return errcode.Wrap(errcode.Hardware, "hal.configure", fmt.Sprintf("GPIO%d as %s", pin, dir), err)
	}
	h.pins[pin] = &configuredPin{pin: p, dir: dir, pwmCapable: pwmCapable}
	return nil
}

func (h *periphHAL) SetDigital(pin int, level bool) error {
	cp, err := h.lookup(pin)
	if err != nil {
		return err
	}
	if cp.dir != types.DirOutput {
		return errcode.Wrap(errcode.PinNotOutput, "hal.set_digital", fmt.Sprintf("GPIO%d", pin), nil)
	}
	if err := cp.pin.Out(gpio.Level(level)); err != nil {
		return errcode.Wrap(errcode.Hardware, "hal.set_digital", fmt.Sprintf("GPIO%d", pin), err)
	}
	return nil
}

func (h *periphHAL) ReadDigital(pin int) (bool, error) {
	cp, err := h.lookup(pin)
	if err != nil {
		return false, err
	}
	return cp.pin.Read() == gpio.High, nil
}

func (h *periphHAL) SetPWM(pin, duty, freqHz int) error {
	cp, err := h.lookup(pin)
	if err != nil {
		return err
	}
	if !cp.pwmCapable {
		return errcode.Wrap(errcode.PWMUnsupported, "hal.set_pwm", fmt.Sprintf("GPIO%d", pin), nil)
	}
	if duty < 0 || duty > 100 {
		return errcode.Wrap(errcode.InvalidParams, "hal.set_pwm", fmt.Sprintf("duty %d", duty), nil)
	}
	d := gpio.Duty(int64(gpio.DutyMax) * int64(duty) / 100)
	f := physic.Frequency(freqHz) * physic.Hertz
	if err := cp.pin.PWM(d, f); err != nil {
		return errcode.Wrap(errcode.Hardware, "hal.set_pwm", fmt.Sprintf("GPIO%d", pin), err)
	}
	return nil
}

func (h *periphHAL) Cleanup() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for n, cp := range h.pins {
		if cp.dir == types.DirOutput {
			if err := cp.pin.Out(gpio.Low); err != nil && firstErr == nil {
				firstErr = errcode.Wrap(errcode.Hardware, "hal.cleanup", fmt.Sprintf("GPIO%d", n), err)
			}
		}
		if err := cp.pin.Halt(); err != nil {
			h.log.Warnw("halt failed", "pin", n, "err", err)
		}
	}
	h.pins = map[int]*configuredPin{}
	return firstErr
}

func (h *periphHAL) lookup(pin int) (*configuredPin, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp, ok := h.pins[pin]
	if !ok {
		return nil, errcode.Wrap(errcode.UnknownPin, "hal", fmt.Sprintf("GPIO%d not configured", pin), nil)
	}
	return cp, nil
}
