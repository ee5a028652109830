package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	s, err := Static("0000000089abcdef").HardwareSerial()
	require.NoError(t, err)
	assert.Equal(t, "0000000089abcdef", s)

	_, err = Static("").HardwareSerial()
	assert.Error(t, err)
}

func TestCPUInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	content := "processor\t: 0\nmodel name\t: ARMv7\nSerial\t\t: 10000000abcd1234\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := CPUInfo{Path: path}.HardwareSerial()
	require.NoError(t, err)
	assert.Equal(t, "10000000abcd1234", s)
}

func TestCPUInfoMissingSerial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpuinfo")
	require.NoError(t, os.WriteFile(path, []byte("processor\t: 0\n"), 0o644))

	_, err := CPUInfo{Path: path}.HardwareSerial()
	assert.Error(t, err)
}
