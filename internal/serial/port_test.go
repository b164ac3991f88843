package serial

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen_RequiresDevice tests configuration validation
func TestOpen_RequiresDevice(t *testing.T) {
	port, err := Open(Config{})
	assert.Error(t, err)
	assert.Nil(t, port)
}

// TestOpen_MissingDevice tests opening a path that does not exist
func TestOpen_MissingDevice(t *testing.T) {
	port, err := Open(Config{Device: filepath.Join(t.TempDir(), "ttyNONE"), Baud: DefaultBaud})
	assert.Error(t, err)
	assert.Nil(t, port)
}

// TestPort_WriteAndClose tests the write path on a plain file
func TestPort_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	port := &Port{device: path, baud: DefaultBaud, file: f}
	assert.Equal(t, path, port.Device())
	assert.Equal(t, DefaultBaud, port.Baud())

	n, err := port.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	_, err = port.Write([]byte{0x00})
	assert.True(t, errors.Is(err, ErrClosed))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, content)
}
