// Package naming provides the naming conventions for the libvirt resources
// marionette creates: clone domains, their overlay volumes, MAC addresses
// and session lock files.
package naming

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// CloneSuffix separates the source machine name from the session part in
// clone names.
const CloneSuffix = "-marionette-"

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_.+-]`)

// CloneName returns the domain name for a clone of source made for the
// session sessionID.
//
// Example: ("win11", "3f2a9c1e-...") → win11-marionette-3f2a9c1e
func CloneName(source, sessionID string) string {
	short := strings.ReplaceAll(sessionID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	base := invalidNameChars.ReplaceAllString(source, "_")
	return base + CloneSuffix + short
}

// IsCloneName reports whether name follows the CloneName pattern.
func IsCloneName(name string) bool {
	return strings.Contains(name, CloneSuffix)
}

// VolumeNameOverlay returns the volume name of the overlay for one disk of a
// clone.
// Format: {cloneName}_{target}.qcow2 (e.g., "win11-marionette-3f2a9c1e_vda.qcow2")
func VolumeNameOverlay(cloneName, target string) string {
	return fmt.Sprintf("%s_%s.qcow2", cloneName, target)
}

// VolumePrefix returns the prefix shared by every volume of a clone.
func VolumePrefix(cloneName string) string {
	return cloneName + "_"
}

// MACFromUUID calculates a deterministic MAC address for the index'th
// interface of the domain with the given UUID. Uses the locally
// administered prefix be:ef: followed by three UUID bytes and the index.
//
// Example: (3f2a9c1e-..., 0) → be:ef:3f:2a:9c:00
func MACFromUUID(id string, index int) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	if index < 0 || index > 0xff {
		return "", fmt.Errorf("interface index out of range: %d", index)
	}
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", u[0], u[1], u[2], index), nil
}

// LockFileName returns the file name of the session lock of a machine.
// Format: {uuid}.lock
func LockFileName(machineUUID string) string {
	return machineUUID + ".lock"
}
