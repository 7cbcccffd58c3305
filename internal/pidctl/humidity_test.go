package pidctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHumidityPIDInvertsAroundMidpoint(t *testing.T) {
	h := NewHumidityPID(1, 81)
	h.SetSetpoint(40)
	res := h.Compute(40)
	// error 0 on the first tick drives the raw PID output to its floor (1),
	// which inverts to the opposite end of the range (max).
	assert.Equal(t, 81.0, res.TemperatureSetpoint)
}

func TestHumidityPIDSaturatesAtUpperRawBoundEscapesTo1(t *testing.T) {
	h := NewHumidityPID(1, 81)
	h.SetSetpoint(1000)
	res := h.Compute(0)
	assert.True(t, res.Saturated)
	assert.Equal(t, 1.0, res.TemperatureSetpoint, "raw output saturated at max inverts to the range floor")
}

func TestHumidityPIDNotSaturatedMidRange(t *testing.T) {
	h := NewHumidityPID(1, 81)
	h.SetSetpoint(45)
	res := h.Compute(40)
	assert.False(t, res.Saturated)
}

func TestHumidityPIDSetOutputRangeDegenerate(t *testing.T) {
	h := NewHumidityPID(1, 81)
	h.SetOutputRange(1, 0)
	h.SetSetpoint(40)
	res := h.Compute(40)
	assert.Equal(t, 1.0, res.TemperatureSetpoint, "inverted range still resolves to the configured min")
}
