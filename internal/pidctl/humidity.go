package pidctl

// HumidityPID wraps a PID core with the humidity->temperature-setpoint
// inversion from spec §4.7: higher humidity-PID output maps to a *lower*
// temperature target, since more residual humidity calls for less heat
// once the loop is trying to hold a target RH rather than drive it down.
type HumidityPID struct {
	core *PID
}

// NewHumidityPID constructs a HumidityPID bounded to [minTemp, maxTemp].
func NewHumidityPID(minTemp, maxTemp float64) *HumidityPID {
	return &HumidityPID{core: New(minTemp, maxTemp)}
}

// SetOutputRange updates the bounds used both for the inner PID clamp and
// for the inversion formula.
func (h *HumidityPID) SetOutputRange(min, max float64) { h.core.SetOutputRange(min, max) }

// SetSetpoint sets the target relative humidity.
func (h *HumidityPID) SetSetpoint(targetRH float64) { h.core.SetSetpoint(targetRH) }

// Saturated reports whether the last Compute call's raw PID output sat at
// the upper output bound — the escape-to-heater-PID condition.
type Result struct {
	TemperatureSetpoint float64
	Saturated           bool
}

// Compute runs the inner PID against measured relative humidity and
// inverts its output into a temperature setpoint.
func (h *HumidityPID) Compute(measuredRH float64) Result {
	p := h.core.Compute(measuredRH)
	min, max := h.core.Min(), h.core.Max()

	saturated := p == max

	span := max - min
	var target float64
	if span == 0 {
		target = min
	} else {
		target = span*((100-((p-min)/span)*100)/100) + min
	}

	return Result{TemperatureSetpoint: round2(target), Saturated: saturated}
}
