// Package heater owns one dryer's heater (and its fan): pushing setpoints,
// and tracking temperature, target, power, on/off, and fan run-state.
package heater

import (
	"context"
	"sync"

	"github.com/idryer/dryerd/internal/gcode"
	"github.com/idryer/dryerd/internal/moonraker"
)

// Config is the immutable hardware binding for one dryer's heater.
type Config struct {
	DeviceName    string
	FanDeviceName string
}

// Fan is the heater's blower run-state.
type Fan struct {
	Speed float64
	IsRun bool
}

// Driver owns the heater's runtime state.
type Driver struct {
	cfg    Config
	client *moonraker.Client

	mu          sync.Mutex
	maxTemp     *float64
	temperature float64
	target      float64
	power       float64
	fan         Fan
	haveTarget  bool
}

// New constructs a Driver. MaxTemp is fetched lazily on first call to
// EnsureMaxTemp.
func New(client *moonraker.Client, cfg Config) *Driver {
	return &Driver{cfg: cfg, client: client}
}

// EnsureMaxTemp fetches and caches the heater's configured max_temp the
// first time it's called; subsequent calls return the cached value.
func (d *Driver) EnsureMaxTemp(ctx context.Context) (float64, error) {
	d.mu.Lock()
	if d.maxTemp != nil {
		v := *d.maxTemp
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	v, err := d.client.MaxTemp(ctx, d.cfg.DeviceName)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.maxTemp = &v
	d.mu.Unlock()
	return v, nil
}

// MaxTemp returns the cached max_temp, or 0 if not yet fetched.
func (d *Driver) MaxTemp() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxTemp == nil {
		return 0
	}
	return *d.maxTemp
}

// Temperature returns the last-read heater temperature.
func (d *Driver) Temperature() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.temperature
}

// Target returns the last-applied setpoint.
func (d *Driver) Target() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// Power returns the last-read heater power fraction.
func (d *Driver) Power() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.power
}

// IsOn reports whether the heater is currently drawing power.
func (d *Driver) IsOn() bool {
	return d.Power() > 0
}

// FanState returns the last-read fan state.
func (d *Driver) FanState() Fan {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fan
}

// UpdateStatus refreshes scalar readings and fan state from a batched
// Moonraker status payload.
func (d *Driver) UpdateStatus(status moonraker.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := status.Float(d.cfg.DeviceName, "temperature"); ok {
		d.temperature = v
	}
	if v, ok := status.Float(d.cfg.DeviceName, "power"); ok {
		d.power = v
	}
	if speed, ok := status.Float(d.cfg.FanDeviceName, "speed"); ok {
		d.fan = Fan{Speed: speed, IsRun: speed > 0}
	}
}

// Set pushes a new setpoint, emitting SET_HEATER_TEMPERATURE only if target
// differs from the currently applied target and target does not exceed the
// cached max_temp. A zero (or not-yet-fetched) max_temp makes Set a no-op,
// matching the degenerate-config boundary case.
func (d *Driver) Set(ctx context.Context, target float64) error {
	return d.set(ctx, target, false)
}

// SetForced pushes a new setpoint even if it matches the currently applied
// target, still respecting the max_temp clamp. Used for phase entry
// actions (e.g. PENDING always re-asserts target 0).
func (d *Driver) SetForced(ctx context.Context, target float64) error {
	return d.set(ctx, target, true)
}

func (d *Driver) set(ctx context.Context, target float64, force bool) error {
	d.mu.Lock()
	maxTemp := d.maxTemp
	sameTarget := !force && d.haveTarget && d.target == target
	d.mu.Unlock()

	if sameTarget {
		return nil
	}
	if maxTemp == nil || *maxTemp <= 0 || target > *maxTemp {
		return nil
	}

	if err := d.client.GCode(ctx, gcode.SetHeaterTemperature(d.cfg.DeviceName, target)); err != nil {
		return err
	}

	d.mu.Lock()
	d.target = target
	d.haveTarget = true
	d.mu.Unlock()
	return nil
}
