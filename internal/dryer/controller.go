// Package dryer composes the hardware drivers, PID loops, and plateau
// analyzer into the per-dryer phase state machine: one tick reads sensors,
// reconciles the active preset, decides and applies actuator targets, and
// returns a telemetry row.
package dryer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/idryer/dryerd/internal/heater"
	"github.com/idryer/dryerd/internal/led"
	"github.com/idryer/dryerd/internal/moonraker"
	"github.com/idryer/dryerd/internal/pidctl"
	"github.com/idryer/dryerd/internal/plateau"
	"github.com/idryer/dryerd/internal/sensor"
	"github.com/idryer/dryerd/internal/servo"
)

// Config is one dryer's immutable identity and hardware binding.
type Config struct {
	ID       string
	Name     string
	Servo    servo.Config
	Heater   heater.Config
	Sensor   sensor.Config
	LED      led.Config
	Humidity HumidityConfig
}

// Controller owns one dryer's runtime state: the hardware drivers, the
// phase state machine, and the lazily-constructed PID loops.
type Controller struct {
	cfg    Config
	client *moonraker.Client
	log    *logrus.Entry

	servo   *servo.Driver
	led     *led.Driver
	heater  *heater.Driver
	sensor  *sensor.Reader
	plateau *plateau.Analyzer

	now func() time.Time

	phase         Phase
	currentPreset *Preset
	heaterPID     *pidctl.PID
	humidityPID   *pidctl.HumidityPID
	dryingStart   *time.Time
	timeLeftS     *float64
}

// New constructs a Controller. Init must be called once before the first
// Tick to calibrate the servo. Returns an error if cfg.Humidity fails
// validation (plateau_window_size > plateau_duration).
func New(client *moonraker.Client, cfg Config, log *logrus.Entry) (*Controller, error) {
	if err := cfg.Humidity.Validate(); err != nil {
		return nil, err
	}
	entry := log.WithField("dryer", cfg.ID)
	return &Controller{
		cfg:     cfg,
		client:  client,
		log:     entry,
		servo:   servo.New(client, cfg.Servo, entry),
		led:     led.New(client, cfg.LED),
		heater:  heater.New(client, cfg.Heater),
		sensor:  sensor.New(cfg.Sensor),
		plateau: plateau.New(cfg.ID),
		now:     time.Now,
		phase:   Pending,
	}, nil
}

// Init calibrates the servo and fetches the heater's max_temp once.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.servo.Init(ctx); err != nil {
		return err
	}
	_, err := c.heater.EnsureMaxTemp(ctx)
	return err
}

// DeviceNames returns every Moonraker object name this dryer's tick needs,
// for the Supervisor to batch into a single printer/objects/query call.
func (c *Controller) DeviceNames() []string {
	return []string{
		c.cfg.Servo.DeviceName,
		c.cfg.Heater.DeviceName,
		c.cfg.Heater.FanDeviceName,
		c.cfg.Sensor.DeviceName,
		c.cfg.LED.DeviceName,
	}
}

// SetForcedOff applies a best-effort heater.set(0), used by the Supervisor
// as the safety shutoff when a tick faults.
func (c *Controller) SetForcedOff(ctx context.Context) error {
	return c.heater.SetForced(ctx, 0)
}

// Phase returns the controller's current state machine position.
func (c *Controller) Phase() Phase { return c.phase }

// CurrentPresetID returns the id of the preset currently driving this
// dryer, or "" if none.
func (c *Controller) CurrentPresetID() string {
	if c.currentPreset == nil {
		return ""
	}
	return c.currentPreset.ID
}

// SetPreset transitions the dryer: a non-nil preset enters DRYING with that
// preset; nil enters PENDING. Link authorization is the caller's
// responsibility (the control API checks the store before calling this).
func (c *Controller) SetPreset(ctx context.Context, preset *Preset) error {
	if preset == nil {
		return c.setPhase(ctx, Pending, nil)
	}
	return c.setPhase(ctx, Drying, preset)
}

// setPhase runs a phase's entry actions (§4.9's table) and installs it.
func (c *Controller) setPhase(ctx context.Context, phase Phase, preset *Preset) error {
	prev := c.phase
	c.log.WithFields(logrus.Fields{"from": prev, "to": phase}).Info("dryer phase change")

	switch phase {
	case Pending:
		c.currentPreset = nil
		c.heaterPID = nil
		c.humidityPID = nil
		c.dryingStart = nil
		c.timeLeftS = nil
		if err := c.heater.SetForced(ctx, 0); err != nil {
			c.log.WithError(err).Error("pending entry: heater.set(0) failed")
		}
		if err := c.servo.Close(ctx, false); err != nil {
			c.log.WithError(err).Error("pending entry: servo.close failed")
		}
	case Drying:
		c.heaterPID = nil
		c.humidityPID = nil
		c.dryingStart = nil
		c.timeLeftS = nil
		if err := c.servo.Close(ctx, false); err != nil {
			c.log.WithError(err).Error("drying entry: servo.close failed")
		}
		c.currentPreset = preset
	case TimerDrying:
		if err := c.servo.Close(ctx, false); err != nil {
			c.log.WithError(err).Error("timer_drying entry: servo.close failed")
		}
		now := c.now()
		c.dryingStart = &now
		c.currentPreset = preset
	case HumidityStorage, TemperatureStorage:
		if err := c.servo.Close(ctx, false); err != nil {
			c.log.WithError(err).Error("storage entry: servo.close failed")
		}
		c.currentPreset = preset
	}

	c.phase = phase
	return nil
}

// boundedMaxTemp caps a preset's requested max temperature at the heater's
// actual configured ceiling.
func (c *Controller) boundedMaxTemp(preset *Preset) float64 {
	maxT := preset.Temperature + preset.MaxTemperatureDelta
	if ceiling := c.heater.MaxTemp(); maxT > ceiling {
		maxT = ceiling
	}
	return maxT
}

// runHeaterPID lazy-inits the heater PID if needed, updates its setpoint
// and bound, and applies the resulting power to the heater.
func (c *Controller) runHeaterPID(ctx context.Context, setpoint, minBound, maxBound, measuredTemp float64) {
	if c.heaterPID == nil {
		c.heaterPID = pidctl.New(minBound, maxBound)
	}
	c.heaterPID.SetOutputRange(minBound, maxBound)
	c.heaterPID.SetSetpoint(setpoint)
	out := c.heaterPID.Compute(measuredTemp)
	if err := c.heater.Set(ctx, out); err != nil {
		c.log.WithError(err).Error("heater.set failed")
	}
}

// runHumidityDrivenHeater runs the humidity PID and, on saturation, escapes
// to the heater PID with setpoint 1 -- mirroring the TIMER_DRYING/
// HUMIDITY_STORAGE branch in §4.9.
func (c *Controller) runHumidityDrivenHeater(ctx context.Context, preset *Preset, maxT, measuredRH, measuredTemp float64) {
	if c.humidityPID == nil {
		c.humidityPID = pidctl.NewHumidityPID(1, maxT)
	}
	c.humidityPID.SetOutputRange(1, maxT)
	c.humidityPID.SetSetpoint(preset.Humidity)
	res := c.humidityPID.Compute(measuredRH)

	if res.Saturated {
		c.runHeaterPID(ctx, 1, 1, maxT, measuredTemp)
		return
	}
	if err := c.heater.Set(ctx, res.TemperatureSetpoint); err != nil {
		c.log.WithError(err).Error("heater.set (humidity-driven) failed")
	}
}

// servoByPlateau runs the plateau analyzer and dispatches open/close.
func (c *Controller) servoByPlateau(ctx context.Context, reading sensor.Reading) {
	cfg := plateau.Config{
		OpenThreshold:   c.cfg.Humidity.OpenThreshold,
		CloseThreshold:  c.cfg.Humidity.CloseThreshold,
		PlateauDuration: c.cfg.Humidity.PlateauDuration,
		WindowSize:      c.cfg.Humidity.PlateauWindowSize,
		MinIntervalS:    c.cfg.Servo.MinInterval.Seconds(),
	}
	desiredOpen := false
	if p := c.servo.DesiredOpen(); p != nil {
		desiredOpen = *p
	}
	switch c.plateau.Evaluate(cfg, c.sensor.HumidityRing(), desiredOpen) {
	case plateau.Open:
		if err := c.servo.Open(ctx, false); err != nil {
			c.log.WithError(err).Error("plateau open failed")
		}
	case plateau.Close:
		if err := c.servo.Close(ctx, false); err != nil {
			c.log.WithError(err).Error("plateau close failed")
		}
	}
}

// Tick runs one read->reconcile->decide->actuate->log cycle. status is the
// batched Moonraker query result for this dryer's devices; reconcilePreset
// is the freshest preset snapshot the store has for the dryer's currently
// active preset id, or nil if the preset/link no longer exists (nil is a
// no-op when the dryer has no active preset).
func (c *Controller) Tick(ctx context.Context, status moonraker.Status, reconcilePreset *Preset) (Row, error) {
	c.servo.UpdateStatus(status)
	c.led.UpdateStatus(status)
	c.heater.UpdateStatus(status)

	reading, ok := c.sensor.Read(status)
	if !ok {
		reading = sensor.Reading{}
	}

	c.updateLED(ctx, reading)
	c.reconcilePreset(ctx, reconcilePreset, reading)
	c.applyActuatorTargets(ctx, reading)

	return c.buildRow(reading), nil
}

// reconcilePreset implements §4.9's "Preset reconciliation (every tick)".
func (c *Controller) reconcilePreset(ctx context.Context, fresh *Preset, reading sensor.Reading) {
	if c.currentPreset == nil {
		return
	}
	if fresh == nil {
		c.log.WithField("preset_id", c.currentPreset.ID).Warn("preset or link disappeared, forcing PENDING")
		_ = c.setPhase(ctx, Pending, nil)
		return
	}
	if sameValues(c.currentPreset, fresh) {
		return
	}

	// Neither branch below is a final return: the source always
	// re-snapshots the fresh preset afterward, even when the first branch
	// just forced PENDING (current_preset ends up non-nil again on a
	// PENDING dryer) -- preserved as-is rather than "fixed".
	wasStorage := c.currentPreset.StorageType != StorageNone
	if wasStorage && fresh.StorageType == StorageNone &&
		(c.phase == HumidityStorage || c.phase == TemperatureStorage) {
		_ = c.setPhase(ctx, Pending, nil)
	}
	if c.phase == TimerDrying && fresh.Humidity < reading.MedianRH {
		_ = c.setPhase(ctx, Drying, fresh)
	}
	c.currentPreset = fresh
}

// applyActuatorTargets implements §4.9's per-phase per-tick evaluation.
func (c *Controller) applyActuatorTargets(ctx context.Context, reading sensor.Reading) {
	switch c.phase {
	case Pending:
		if c.heater.IsOn() {
			c.log.Info("heater off due to PENDING")
			if err := c.heater.Set(ctx, 0); err != nil {
				c.log.WithError(err).Error("heater.set(0) failed")
			}
		}
	case Drying:
		c.applyDrying(ctx, reading)
	case TimerDrying:
		c.applyTimerDrying(ctx, reading)
	case HumidityStorage:
		c.applyHumidityStorage(ctx, reading)
	case TemperatureStorage:
		c.applyTemperatureStorage(ctx, reading)
	}
}

func (c *Controller) applyDrying(ctx context.Context, reading sensor.Reading) {
	preset := c.currentPreset
	maxT := c.boundedMaxTemp(preset)
	c.runHeaterPID(ctx, preset.Temperature, 1, maxT, reading.Temperature)
	c.servoByPlateau(ctx, reading)

	if preset.Humidity >= reading.MedianRH {
		_ = c.setPhase(ctx, TimerDrying, preset)
	}
}

func (c *Controller) applyTimerDrying(ctx context.Context, reading sensor.Reading) {
	preset := c.currentPreset
	bandHigh := preset.Humidity + c.cfg.Humidity.TimerDryingRange
	bandLow := preset.Humidity - c.cfg.Humidity.TimerDryingRange
	maxT := c.boundedMaxTemp(preset)

	if reading.MedianRH > bandHigh {
		c.runHeaterPID(ctx, preset.Temperature, 1, maxT, reading.Temperature)
		c.servoByPlateau(ctx, reading)
	} else {
		c.runHumidityDrivenHeater(ctx, preset, maxT, reading.MedianRH, reading.Temperature)
		if reading.MedianRH < bandLow {
			_ = c.servo.Open(ctx, false)
		} else {
			_ = c.servo.Close(ctx, false)
		}
	}

	elapsed := c.elapsedSince(c.dryingStart)
	left := preset.DryTimeMinutes*60 - elapsed
	c.timeLeftS = &left

	if elapsed >= preset.DryTimeMinutes*60 {
		switch preset.StorageType {
		case StorageHumidity:
			_ = c.setPhase(ctx, HumidityStorage, preset)
		case StorageTemperature:
			_ = c.setPhase(ctx, TemperatureStorage, preset)
		default:
			_ = c.setPhase(ctx, Pending, nil)
		}
		// HUMIDITY_STORAGE/TEMPERATURE_STORAGE entry (unlike PENDING/DRYING)
		// doesn't clear these itself; the source clears them at this call
		// site for all three destinations, so drying_started_at starts nil
		// and HUMIDITY_STORAGE arms it on the first out-of-band excursion.
		c.dryingStart = nil
		c.timeLeftS = nil
	}
}

func (c *Controller) applyHumidityStorage(ctx context.Context, reading sensor.Reading) {
	preset := c.currentPreset
	bandHigh := preset.Humidity + c.cfg.Humidity.TimerDryingRange
	bandLow := preset.Humidity - c.cfg.Humidity.TimerDryingRange
	maxT := c.boundedMaxTemp(preset)

	if c.dryingStart == nil && reading.MedianRH < bandHigh {
		return
	}

	if reading.MedianRH > bandHigh+0.1 {
		now := c.now()
		c.dryingStart = &now
		c.runHeaterPID(ctx, preset.Temperature, 1, maxT, reading.Temperature)
		c.servoByPlateau(ctx, reading)
	} else {
		c.runHumidityDrivenHeater(ctx, preset, maxT, reading.MedianRH, reading.Temperature)
		if reading.MedianRH < bandLow {
			_ = c.servo.Open(ctx, false)
		} else {
			_ = c.servo.Close(ctx, false)
		}
	}

	// The displayed countdown is based on dry_time, while the exit condition
	// below uses humidity_storage_dry_time (see DESIGN.md, Open Question #1).
	elapsed := c.elapsedSince(c.dryingStart)
	left := preset.DryTimeMinutes*60 - elapsed
	c.timeLeftS = &left

	if elapsed >= preset.HumidityStorageMinutes*60 {
		if err := c.heater.Set(ctx, 0); err != nil {
			c.log.WithError(err).Error("humidity_storage exit: heater.set(0) failed")
		}
		c.dryingStart = nil
	}
}

func (c *Controller) applyTemperatureStorage(ctx context.Context, reading sensor.Reading) {
	preset := c.currentPreset
	maxT := c.boundedMaxTemp(preset)
	c.runHeaterPID(ctx, preset.Temperature, preset.StorageTemperature, maxT, reading.Temperature)

	switch {
	case reading.MedianRH > preset.Humidity:
		c.servoByPlateau(ctx, reading)
	case reading.MedianRH < preset.Humidity:
		_ = c.servo.Open(ctx, false)
	default:
		_ = c.servo.Close(ctx, false)
	}
}

func (c *Controller) elapsedSince(start *time.Time) float64 {
	if start == nil {
		return 0
	}
	return c.now().Sub(*start).Seconds()
}

// updateLED implements §4.3's indicator assignment, blinking on even
// wall-clock seconds during the phases the spec names.
func (c *Controller) updateLED(ctx context.Context, reading sensor.Reading) {
	blinkOff := c.now().Second()%2 == 0

	fanState := c.heater.FanState()
	if c.heater.IsOn() {
		_ = c.led.SetPixelColor(ctx, 0, led.RGB{R: c.heater.Power()})
	} else {
		_ = c.led.SetPixelColor(ctx, 0, led.Dim)
	}

	if fanState.IsRun {
		if c.phase == HumidityStorage && blinkOff {
			_ = c.led.SetPixelColor(ctx, 1, led.Off)
		} else {
			_ = c.led.SetPixelColor(ctx, 1, led.RGB{G: fanState.Speed})
		}
	} else {
		_ = c.led.SetPixelColor(ctx, 1, led.Dim)
	}

	if c.currentPreset != nil {
		storagePhase := c.phase == TimerDrying || c.phase == HumidityStorage || c.phase == TemperatureStorage
		if storagePhase && blinkOff {
			_ = c.led.SetPixelColor(ctx, 2, led.Off)
		} else if reading.MedianRH < c.currentPreset.Humidity {
			_ = c.led.SetPixelColor(ctx, 2, led.Dim)
		} else {
			_ = c.led.SetPixelColor(ctx, 2, led.RGB{B: reading.MedianRH / 100})
		}
	} else {
		_ = c.led.SetPixelColor(ctx, 2, led.Dim)
	}

	if c.phase == TemperatureStorage && blinkOff {
		_ = c.led.SetPixelColor(ctx, 3, led.Off)
	} else if reading.Temperature <= 50 {
		_ = c.led.SetPixelColor(ctx, 3, led.Dim)
	} else {
		maxTemp := c.heater.MaxTemp()
		var ratio float64
		if maxTemp > 0 {
			ratio = (c.heater.Temperature() / (maxTemp / 100)) / 100
		}
		_ = c.led.SetPixelColor(ctx, 3, led.RGB{R: ratio})
	}
}

func (c *Controller) buildRow(reading sensor.Reading) Row {
	var presetID *string
	if c.currentPreset != nil {
		id := c.currentPreset.ID
		presetID = &id
	}
	return Row{
		DryerID:           c.cfg.ID,
		Timestamp:         c.now(),
		Status:            c.phase,
		CurrentPresetID:   presetID,
		HeaterTemperature: c.heater.Temperature(),
		HeaterIsOn:        c.heater.IsOn(),
		HeaterFanIsRun:    c.heater.FanState().IsRun,
		Temperature:       reading.Temperature,
		ServoIsOpen:       c.servo.DesiredOpen(),
		AbsoluteHumidity:  reading.AbsoluteHumidity,
		RelativeHumidity:  reading.RelativeHumidity,
		TimeLeftDryingS:   c.timeLeftS,
	}
}
