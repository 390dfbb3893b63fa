package env

import (
	"github.com/denisbrodbeck/machineid"
)

const appID = "sfslink"

// MachineID retrieves an ID identifying the machine. The raw machine id is
// hashed with the application id so it isn't exposed on the broker.
func MachineID() (string, error) {
	return machineid.ProtectedID(appID)
}
