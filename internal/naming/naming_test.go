package naming

import (
	"strings"
	"testing"
)

func TestCloneName(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		sessionID string
		expected  string
	}{
		{
			name:      "uuid session id",
			source:    "win11",
			sessionID: "3f2a9c1e-5b7d-4e21-9a0c-1d2e3f405162",
			expected:  "win11-marionette-3f2a9c1e",
		},
		{
			name:      "short session id",
			source:    "base",
			sessionID: "ab",
			expected:  "base-marionette-ab",
		},
		{
			name:      "invalid characters replaced",
			source:    "my vm/1",
			sessionID: "12345678-aaaa",
			expected:  "my_vm_1-marionette-12345678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CloneName(tt.source, tt.sessionID)
			if got != tt.expected {
				t.Errorf("CloneName(%q, %q) = %q, want %q", tt.source, tt.sessionID, got, tt.expected)
			}
			if !IsCloneName(got) {
				t.Errorf("IsCloneName(%q) = false", got)
			}
		})
	}
}

func TestIsCloneName(t *testing.T) {
	if IsCloneName("win11") {
		t.Error("IsCloneName(win11) = true, want false")
	}
}

func TestVolumeNames(t *testing.T) {
	if got := VolumeNameOverlay("c1", "vda"); got != "c1_vda.qcow2" {
		t.Errorf("VolumeNameOverlay() = %q", got)
	}
	if got := VolumePrefix("c1"); got != "c1_" {
		t.Errorf("VolumePrefix() = %q", got)
	}
	if !strings.HasPrefix(VolumeNameOverlay("c1", "sdb"), VolumePrefix("c1")) {
		t.Error("overlay names must start with the clone's volume prefix")
	}
}

func TestMACFromUUID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		index     int
		expected  string
		wantError bool
	}{
		{name: "first interface", id: "3f2a9c1e-5b7d-4e21-9a0c-1d2e3f405162", index: 0, expected: "be:ef:3f:2a:9c:00"},
		{name: "second interface", id: "3f2a9c1e-5b7d-4e21-9a0c-1d2e3f405162", index: 1, expected: "be:ef:3f:2a:9c:01"},
		{name: "invalid uuid", id: "not-a-uuid", wantError: true},
		{name: "index too large", id: "3f2a9c1e-5b7d-4e21-9a0c-1d2e3f405162", index: 256, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MACFromUUID(tt.id, tt.index)
			if tt.wantError {
				if err == nil {
					t.Errorf("Expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("MACFromUUID() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLockFileName(t *testing.T) {
	if got := LockFileName("abc"); got != "abc.lock" {
		t.Errorf("LockFileName() = %q", got)
	}
}
