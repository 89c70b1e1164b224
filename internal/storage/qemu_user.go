package storage

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// qemuConfPath is where libvirt's QEMU driver reads its process user from.
const qemuConfPath = "/etc/libvirt/qemu.conf"

// fallbackQEMUID is the qemu UID/GID on Fedora/RHEL.
const fallbackQEMUID = "107"

var (
	qemuUID  string
	qemuGID  string
	qemuOnce sync.Once
	qemuErr  error
)

// GetQEMUUserGroup returns the UID and GID the QEMU process runs as, so
// overlays are created readable by the hypervisor. It tries, in order, the
// user configured in qemu.conf, the common account names, then 107.
//
// The result is cached after the first call.
func GetQEMUUserGroup() (uid, gid string, err error) {
	qemuOnce.Do(func() {
		qemuUID, qemuGID, qemuErr = lookupQEMUUserGroup(qemuConfPath)
		if qemuErr != nil {
			logrus.WithError(qemuErr).Warn("Using fallback QEMU owner for clone storage")
		}
	})
	return qemuUID, qemuGID, qemuErr
}

func lookupQEMUUserGroup(confPath string) (uid, gid string, err error) {
	var username, groupname string
	if f, err := os.Open(confPath); err == nil {
		username, groupname = parseQEMUConf(f)
		_ = f.Close()
	}

	if username != "" {
		if u, err := user.Lookup(username); err == nil {
			gid = u.Gid
			if groupname != "" {
				if g, err := user.LookupGroup(groupname); err == nil {
					gid = g.Gid
				}
			}
			return u.Uid, gid, nil
		}
	}

	for _, name := range []string{"qemu", "libvirt-qemu"} {
		if u, err := user.Lookup(name); err == nil {
			return u.Uid, u.Gid, nil
		}
	}

	return fallbackQEMUID, fallbackQEMUID, errQEMUUserUnknown
}

var errQEMUUserUnknown = errors.New("could not determine QEMU user/group, using fallback UID/GID 107")

// parseQEMUConf extracts the user and group settings from a qemu.conf.
// Returns empty strings for settings that are not present.
func parseQEMUConf(r io.Reader) (username, groupname string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		switch strings.TrimSpace(key) {
		case "user":
			username = value
		case "group":
			groupname = value
		}
	}
	return username, groupname
}
