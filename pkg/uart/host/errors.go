package host

import (
	"errors"
	"fmt"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
)

var (
	// ErrInvalidRequest indicates a request exceeding the device limits.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrFileNotFound matches a DeviceError reporting a missing file.
	ErrFileNotFound = errors.New("file not found")
	// ErrMismatch indicates data read back differs from what was sent.
	ErrMismatch = errors.New("verification mismatch")
)

// DeviceError is a nonzero response code reported by the device.
type DeviceError struct {
	Command uint16
	Code    uint16
}

// Error implements error.
func (e *DeviceError) Error() string {
	if cmds.IsSFS(e.Command) {
		return fmt.Sprintf("%s: %s", cmds.Name(e.Command), cmds.SFSStatusText(e.Code))
	}
	return fmt.Sprintf("%s: %s", cmds.Name(e.Command), cmds.ResponseText(e.Code))
}

// Is makes errors.Is(err, ErrFileNotFound) work.
func (e *DeviceError) Is(target error) bool {
	return target == ErrFileNotFound && cmds.IsSFS(e.Command) && e.Code == cmds.SFSStatusFileNotFound
}
