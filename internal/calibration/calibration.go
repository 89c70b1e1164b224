// Package calibration finds the calibration target on a guest screenshot.
//
// A client that wants to map its own coordinates onto the guest screen
// shows a solid red rectangle of a known size surrounded by a gray border,
// then asks for its position. Locate returns the top-left corner of the red
// area in screen pixels.
package calibration

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrNotFound is returned when no matching rectangle is on screen.
var ErrNotFound = errors.New("calibration rectangle not found")

// BorderWidth is the width of the gray frame around the red area.
const BorderWidth = 30

// tolerance is the per-channel distance still considered a match. Guest
// scaling and color depth conversion shift values slightly.
const tolerance = 8

var (
	targetColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	borderColor = color.RGBA{R: 100, G: 100, B: 100, A: 255}
)

// Point is a position on the guest screen.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Locate finds a width x height red rectangle framed by the gray border and
// returns its top-left corner.
func Locate(img image.Image, width, height int) (Point, error) {
	if width <= 0 || height <= 0 {
		return Point{}, fmt.Errorf("invalid calibration size %dx%d", width, height)
	}

	b := img.Bounds()
	for y := b.Min.Y + 1; y <= b.Max.Y-height; y++ {
		for x := b.Min.X + 1; x <= b.Max.X-width; x++ {
			if !matches(img, x, y, targetColor) ||
				!matches(img, x-1, y, borderColor) ||
				!matches(img, x, y-1, borderColor) {
				continue
			}
			if verify(img, x, y, width, height) {
				return Point{X: x - b.Min.X, Y: y - b.Min.Y}, nil
			}
		}
	}

	return Point{}, fmt.Errorf("%w: %dx%d on %dx%d screen", ErrNotFound, width, height, b.Dx(), b.Dy())
}

// verify checks the rectangle edges and the border just outside them.
func verify(img image.Image, x, y, width, height int) bool {
	right := x + width - 1
	bottom := y + height - 1

	for i := x; i <= right; i++ {
		if !matches(img, i, y, targetColor) || !matches(img, i, bottom, targetColor) {
			return false
		}
	}
	for j := y; j <= bottom; j++ {
		if !matches(img, x, j, targetColor) || !matches(img, right, j, targetColor) {
			return false
		}
	}

	b := img.Bounds()
	outside := []image.Point{
		{X: right + 1, Y: y},
		{X: x, Y: bottom + 1},
		{X: x - BorderWidth, Y: y},
		{X: x, Y: y - BorderWidth},
	}
	for _, p := range outside {
		if p.In(b) && !matches(img, p.X, p.Y, borderColor) {
			return false
		}
	}
	return true
}

func matches(img image.Image, x, y int, want color.RGBA) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	return near(r>>8, want.R) && near(g>>8, want.G) && near(b>>8, want.B)
}

func near(got uint32, want uint8) bool {
	d := int(got) - int(want)
	return d >= -tolerance && d <= tolerance
}
