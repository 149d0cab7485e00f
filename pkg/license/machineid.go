// Package license node-locks live trading to a specific machine: a
// short-lived JWT bound to the host's stable machine id, validated at
// startup before the OMS is allowed to place real orders.
package license

import (
	"github.com/denisbrodbeck/machineid"
)

// MachineID fetches a stable identifier for licensing.
func MachineID() (string, error) {
	return machineid.ID()
}
