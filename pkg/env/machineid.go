// Package env identifies the machine the controller runs on.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// NodeIDLength is the length of a node ID.
const NodeIDLength = 12

// MachineID retrieves the unique ID identifying the machine.
func MachineID() (string, error) {
	return machineid.ID()
}

// NodeID returns a short app specific ID of the machine, falling back to
// the hostname when no machine ID is available.
func NodeID(appID string) string {
	id, err := machineid.ProtectedID(appID)
	if err == nil && len(id) >= NodeIDLength {
		return id[:NodeIDLength]
	}
	glog.Warningf("machine id unavailable: %v", err)
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
