package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// qcow2Magic is the magic at the start of QCOW2 files: "QFI" + 0xfb.
// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
var qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

// DetectDiskFormat reports the format of the disk at filePath. It is used
// when a source domain does not name its disk driver type.
//
// Files starting with the QCOW2 magic are qcow2; anything else of at least
// one sector is treated as raw, as QEMU does for headerless images.
func DetectDiskFormat(filePath string) (VolumeFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return detectFormat(f)
}

func detectFormat(r io.Reader) (VolumeFormat, error) {
	sector := make([]byte, 512)
	n, err := io.ReadFull(r, sector)
	if n >= len(qcow2Magic) && bytes.Equal(sector[:len(qcow2Magic)], qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}
	if err != nil {
		return "", fmt.Errorf("file too small to be a disk image (%d bytes): %w", n, err)
	}
	return VolumeFormatRaw, nil
}
