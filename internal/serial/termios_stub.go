//go:build !linux

package serial

import (
	"fmt"
	"os"
)

func openRaw(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("serial output not supported on this platform")
}
