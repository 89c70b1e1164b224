package libvirt

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/spakin/netpbm"

	"github.com/jbweber/marionette/internal/hypervisor"
)

type screen struct {
	m       *machine
	observe func(width, height int)
}

var _ hypervisor.Screen = (*screen)(nil)

// Screenshot captures the first head of the guest display.
func (s *screen) Screenshot(ctx context.Context) (image.Image, error) {
	var buf bytes.Buffer
	mime, err := s.m.hv.lv.DomainScreenshot(s.m.dom, &buf, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen of %s: %w", s.m.name, err)
	}

	var mimeType string
	if len(mime) > 0 {
		mimeType = mime[0]
	}
	img, err := decodeScreenshot(mimeType, buf.Bytes())
	if err != nil {
		return nil, err
	}

	if s.observe != nil {
		b := img.Bounds()
		s.observe(b.Dx(), b.Dy())
	}
	return img, nil
}

// decodeScreenshot decodes the formats QEMU produces: PPM from the VGA
// console, PNG from newer versions.
func decodeScreenshot(mimeType string, data []byte) (image.Image, error) {
	switch mimeType {
	case "image/png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode PNG screenshot: %w", err)
		}
		return img, nil
	case "image/x-portable-pixmap", "":
		img, err := decodePPM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode PPM screenshot: %w", err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported screenshot format %q", mimeType)
}

// decodePPM decodes a portable pixmap. The header's dimensions must fit the
// data actually received.
func decodePPM(data []byte) (image.Image, error) {
	cfg, err := netpbm.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid pixmap header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Height > len(data)/3/cfg.Width {
		return nil, fmt.Errorf("pixmap of %dx%d does not fit in %d bytes", cfg.Width, cfg.Height, len(data))
	}

	img, err := netpbm.Decode(bytes.NewReader(data), &netpbm.DecodeOptions{Target: netpbm.PPM})
	if err != nil {
		return nil, err
	}
	return img, nil
}
