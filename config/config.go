// Package config resolves the process-wide configuration from the
// environment (prefix GPIOBRIDGE_) with the documented defaults.
package config

import (
	"time"

	"github.com/spf13/viper"

	"gpiobridge-go/errcode"
)

// Config is the startup configuration. All intervals arrive as milliseconds
// in the environment and are carried as durations internally.
type Config struct {
	HardwareSerialOverride string // bypasses the identity provider when set
	SimulateHardware       bool

	PinReadInterval       time.Duration
	SyncWriteInterval     time.Duration
	HeartbeatInterval     time.Duration
	ScheduleReevalEvery   time.Duration
	PWMDefaultFrequencyHz int
	RPCTimeout            time.Duration

	// Document store backend.
	FirestoreProject     string
	FirestoreCredentials string // path to a service-account key file
}

// Load reads the environment and applies defaults.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("GPIOBRIDGE")
	v.AutomaticEnv()

	v.SetDefault("simulate_hardware", false)
	v.SetDefault("pin_read_interval_ms", 5000)
	v.SetDefault("hardware_sync_write_interval_ms", 30000)
	v.SetDefault("heartbeat_interval_ms", 30000)
	v.SetDefault("schedule_reevaluate_interval_ms", 60000)
	v.SetDefault("pwm_default_frequency_hz", 1000)
	v.SetDefault("rpc_timeout_ms", 10000)

	ms := func(key string) time.Duration {
		return time.Duration(v.GetInt(key)) * time.Millisecond
	}
	return Config{
		HardwareSerialOverride: v.GetString("hardware_serial_override"),
		SimulateHardware:       v.GetBool("simulate_hardware"),
		PinReadInterval:        ms("pin_read_interval_ms"),
		SyncWriteInterval:      ms("hardware_sync_write_interval_ms"),
		HeartbeatInterval:      ms("heartbeat_interval_ms"),
		ScheduleReevalEvery:    ms("schedule_reevaluate_interval_ms"),
		PWMDefaultFrequencyHz:  v.GetInt("pwm_default_frequency_hz"),
		RPCTimeout:             ms("rpc_timeout_ms"),
		FirestoreProject:       v.GetString("firestore_project"),
		FirestoreCredentials:   v.GetString("firestore_credentials"),
	}
}

// Validate rejects configurations the controller cannot run with.
// A violation at startup is fatal.
func (c Config) Validate() error {
	if c.PinReadInterval <= 0 || c.SyncWriteInterval <= 0 ||
		c.HeartbeatInterval <= 0 || c.ScheduleReevalEvery <= 0 {
		return errcode.Wrap(errcode.Fatal, "config.validate", "intervals must be positive", nil)
	}
	if c.PWMDefaultFrequencyHz <= 0 {
		return errcode.Wrap(errcode.Fatal, "config.validate", "pwm_default_frequency_hz must be positive", nil)
	}
	if c.RPCTimeout <= 0 {
		return errcode.Wrap(errcode.Fatal, "config.validate", "rpc_timeout_ms must be positive", nil)
	}
	if !c.SimulateHardware && c.FirestoreProject == "" {
		return errcode.Wrap(errcode.Fatal, "config.validate", "firestore_project is required outside simulate mode", nil)
	}
	return nil
}
