// Package hal is the thin façade over the GPIO driver. Two backends share
// the contract: periph.io on real hardware and a deterministic simulator.
// The HAL never retries; failures surface to the caller as hardware errors.
package hal

import (
	"gpiobridge-go/types"
)

// HAL is the synchronous pin contract. Callers guarantee per-pin exclusion
// around SetDigital/SetPWM; the HAL only guarantees each call is atomic.
type HAL interface {
	// Configure is idempotent. It fails when the pin cannot take the
	// requested direction.
	Configure(pin int, dir types.Direction, pwmCapable bool) error

	SetDigital(pin int, level bool) error

	// ReadDigital is non-blocking; for output pins it reads the level
	// currently driven.
	ReadDigital(pin int) (bool, error)

	// SetPWM fails on pins configured without PWM capability.
	SetPWM(pin int, duty, freqHz int) error

	// Cleanup releases every configured pin.
	Cleanup() error
}
