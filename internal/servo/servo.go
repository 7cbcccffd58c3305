// Package servo owns the vent servo: its desired/physical open state, and
// the stepped ("soft") motion that sweeps it toward a target angle as a
// cancellable background task.
package servo

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idryer/dryerd/internal/gcode"
	"github.com/idryer/dryerd/internal/moonraker"
)

// Config is the immutable hardware binding for one dryer's vent servo.
type Config struct {
	DeviceName  string
	CloseAngle  int
	OpenAngle   int
	SoftStep    int
	SoftSleep   time.Duration
	MinInterval time.Duration
}

// Driver owns one servo's runtime state.
type Driver struct {
	cfg    Config
	client *moonraker.Client
	log    *logrus.Entry

	mu                 sync.Mutex
	desiredOpen        *bool
	physicalOpen       *bool
	currentPulseWidth  *float64
	openPW             *float64
	closePW            *float64
	lastCommandedAngle *int
	generation         uint64
	calibrated         bool
}

// New constructs a Driver. Init must be called before the first open/close.
func New(client *moonraker.Client, cfg Config, log *logrus.Entry) *Driver {
	return &Driver{cfg: cfg, client: client, log: log.WithField("servo", cfg.DeviceName)}
}

// DesiredOpen reports the last-requested open/close intent, or nil if
// never requested.
func (d *Driver) DesiredOpen() *bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.desiredOpen
}

// PhysicalOpen reports the last pulse-width-inferred open/close state, or
// nil if unknown (pulse width doesn't match either calibrated endpoint).
func (d *Driver) PhysicalOpen() *bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physicalOpen
}

// Init calibrates the servo's pulse-width endpoints by commanding each
// configured angle in turn and reading back the resulting pulse width, then
// forces a fast close to align logical and physical state.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.commandAngle(ctx, d.cfg.OpenAngle); err != nil {
		return err
	}
	openPW, err := d.readPulseWidth(ctx)
	if err != nil {
		return err
	}

	if err := d.commandAngle(ctx, d.cfg.CloseAngle); err != nil {
		return err
	}
	closePW, err := d.readPulseWidth(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.openPW = &openPW
	d.closePW = &closePW
	d.calibrated = true
	d.mu.Unlock()

	return d.Close(ctx, true)
}

// UpdateStatus refreshes the measured pulse width from a batched
// Moonraker status payload, re-evaluating physicalOpen.
func (d *Driver) UpdateStatus(status moonraker.Status) {
	pw, ok := status.Float(d.cfg.DeviceName, "value")
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentPulseWidth = &pw
	d.physicalOpen = d.physicalOpenLocked(pw)
}

// Open requests the vent open, via soft motion unless fast is set.
func (d *Driver) Open(ctx context.Context, fast bool) error {
	return d.request(ctx, true, fast)
}

// Close requests the vent closed, via soft motion unless fast is set.
func (d *Driver) Close(ctx context.Context, fast bool) error {
	return d.request(ctx, false, fast)
}

func (d *Driver) request(ctx context.Context, open, fast bool) error {
	d.mu.Lock()
	alreadyDesired := d.desiredOpen != nil && *d.desiredOpen == open
	alreadyPhysical := d.physicalOpen != nil && *d.physicalOpen == open
	if alreadyDesired && alreadyPhysical {
		d.mu.Unlock()
		return nil
	}
	d.desiredOpen = &open
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	targetAngle := d.cfg.CloseAngle
	if open {
		targetAngle = d.cfg.OpenAngle
	}

	if fast {
		// Same single-step command+readback as a soft-motion increment, just
		// commanding the full target angle in one shot.
		return d.commandAngleStep(ctx, gen, targetAngle)
	}

	go d.softMotion(context.Background(), gen, targetAngle)
	return nil
}

// softMotion sweeps the angle toward target in SoftStep increments,
// sleeping SoftSleep between steps. gen must still match d.generation for
// each step to take effect; a superseded sweep (new open/close request)
// silently stops writing.
func (d *Driver) softMotion(ctx context.Context, gen uint64, target int) {
	start := d.startAngle(target)
	angle := start
	step := d.cfg.SoftStep
	if step < 1 {
		step = 1
	}

	for {
		d.mu.Lock()
		stale := gen != d.generation
		d.mu.Unlock()
		if stale {
			return
		}

		if angle == target {
			if err := d.commandAngleStep(ctx, gen, target); err != nil {
				d.log.WithError(err).Error("soft motion: final angle command failed")
			}
			return
		}

		if angle < target {
			angle += step
			if angle > target {
				angle = target
			}
		} else {
			angle -= step
			if angle < target {
				angle = target
			}
		}

		if err := d.commandAngleStep(ctx, gen, angle); err != nil {
			d.log.WithError(err).Error("soft motion: intermediate angle command failed")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.SoftSleep):
		}
	}
}

// startAngle picks the sweep's starting point: the measured pulse width if
// it matches a calibrated endpoint, else the last commanded angle, else
// whichever endpoint is nearer the target.
func (d *Driver) startAngle(target int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.physicalOpen != nil {
		if *d.physicalOpen {
			return d.cfg.OpenAngle
		}
		return d.cfg.CloseAngle
	}
	if d.lastCommandedAngle != nil {
		return *d.lastCommandedAngle
	}
	if abs(target-d.cfg.OpenAngle) <= abs(target-d.cfg.CloseAngle) {
		return d.cfg.OpenAngle
	}
	return d.cfg.CloseAngle
}

func (d *Driver) commandAngleStep(ctx context.Context, gen uint64, angle int) error {
	if err := d.commandAngle(ctx, angle); err != nil {
		return err
	}
	d.mu.Lock()
	if gen == d.generation {
		d.lastCommandedAngle = &angle
	}
	d.mu.Unlock()

	pw, err := d.readPulseWidth(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if gen == d.generation {
		d.currentPulseWidth = &pw
		d.physicalOpen = d.physicalOpenLocked(pw)
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) commandAngle(ctx context.Context, angle int) error {
	return d.client.GCode(ctx, gcode.SetServoAngle(d.cfg.DeviceName, angle))
}

func (d *Driver) readPulseWidth(ctx context.Context) (float64, error) {
	status, err := d.client.Query(ctx, d.cfg.DeviceName)
	if err != nil {
		return 0, err
	}
	pw, ok := status.Float(d.cfg.DeviceName, "value")
	if !ok {
		return 0, moonraker.NewError("servo.readPulseWidth", moonraker.KindInvalidState, errPulseWidthMissing)
	}
	return pw, nil
}

// physicalOpenLocked must be called with d.mu held.
func (d *Driver) physicalOpenLocked(pw float64) *bool {
	if d.openPW != nil && pw == *d.openPW {
		v := true
		return &v
	}
	if d.closePW != nil && pw == *d.closePW {
		v := false
		return &v
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var errPulseWidthMissing = errMsg("pulse width value missing from status")

type errMsg string

func (e errMsg) Error() string { return string(e) }
