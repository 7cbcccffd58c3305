// Package led owns one addressable LED strip, diff-writing per-pixel RGB
// scaled by a global brightness percentage.
package led

import (
	"context"
	"sync"

	"github.com/idryer/dryerd/internal/gcode"
	"github.com/idryer/dryerd/internal/moonraker"
)

// Off and Dim are the two canonical pixel colors used throughout the dryer
// controller's indicator logic.
var (
	Off = RGB{0, 0, 0}
	Dim = RGB{0.01, 0.01, 0.01}
)

// RGB is one pixel's unscaled color.
type RGB struct {
	R, G, B float64
}

// Config is the immutable hardware binding for one dryer's LED strip.
type Config struct {
	DeviceName string
	Brightness float64 // percent, 0-100
	PixelCount int
}

// Driver owns the strip's currently-held (post-scaling) pixel colors.
type Driver struct {
	cfg    Config
	client *moonraker.Client

	mu     sync.Mutex
	pixels []RGB // pixels[i] is sent as wire INDEX=i+1; i is 0-based per the spec's indicator table
}

// New constructs a Driver with all pixels initially unknown (zero RGB).
func New(client *moonraker.Client, cfg Config) *Driver {
	return &Driver{cfg: cfg, client: client, pixels: make([]RGB, cfg.PixelCount)}
}

// UpdateStatus refreshes the held pixel colors from a batched Moonraker
// status payload.
func (d *Driver) UpdateStatus(status moonraker.Status) {
	colors, ok := status.ColorData(d.cfg.DeviceName)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range colors {
		if i >= len(d.pixels) {
			break
		}
		d.pixels[i] = RGB{c[0], c[1], c[2]}
	}
}

// SetPixelColor scales (r,g,b) by the configured brightness and emits
// SET_LED only if the scaled color differs from what the strip is already
// holding for that pixel. index is 0-based, matching the spec's indicator
// assignment (pixel 0 = heater, pixel 1 = fan, pixel 2 = humidity, pixel 3 =
// temperature).
func (d *Driver) SetPixelColor(ctx context.Context, index int, c RGB) error {
	scaled := RGB{
		R: c.R * d.cfg.Brightness / 100,
		G: c.G * d.cfg.Brightness / 100,
		B: c.B * d.cfg.Brightness / 100,
	}

	i := index
	d.mu.Lock()
	if i < 0 || i >= len(d.pixels) {
		d.mu.Unlock()
		return moonraker.NewError("led.SetPixelColor", moonraker.KindInvalidState, errPixelOutOfRange)
	}
	if d.pixels[i] == scaled {
		d.mu.Unlock()
		return nil
	}
	d.pixels[i] = scaled
	d.mu.Unlock()

	return d.client.GCode(ctx, gcode.SetLED(d.cfg.DeviceName, i, scaled.R, scaled.G, scaled.B))
}

type errString string

func (e errString) Error() string { return string(e) }

var errPixelOutOfRange errString = "pixel index out of range"
