// Package identity resolves the device's hardware serial, the primary key
// of the device document. Captured once at process start, immutable after.
package identity

import (
	"bufio"
	"os"
	"strings"

	"gpiobridge-go/errcode"
)

const cpuinfoPath = "/proc/cpuinfo"

// Provider returns the hardware serial.
type Provider interface {
	HardwareSerial() (string, error)
}

// Static is a fixed serial (configuration override, simulate mode, tests).
type Static string

func (s Static) HardwareSerial() (string, error) {
	if s == "" {
		return "", errcode.Wrap(errcode.Fatal, "identity", "empty static serial", nil)
	}
	return string(s), nil
}

// CPUInfo reads the SoC serial from /proc/cpuinfo.
type CPUInfo struct {
	// Path overrides cpuinfoPath in tests.
	Path string
}

func (c CPUInfo) HardwareSerial() (string, error) {
	path := c.Path
	if path == "" {
		path = cpuinfoPath
	}
	f, err := os.Open(path)
	if err != nil {
		return "", errcode.Wrap(errcode.Fatal, "identity", "cannot read cpuinfo", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Serial") {
			continue
		}
		if _, after, ok := strings.Cut(line, ":"); ok {
			serial := strings.TrimSpace(after)
			if serial != "" {
				return serial, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", errcode.Wrap(errcode.Fatal, "identity", "cpuinfo scan failed", err)
	}
	return "", errcode.Wrap(errcode.Fatal, "identity", "no Serial line in cpuinfo", nil)
}
