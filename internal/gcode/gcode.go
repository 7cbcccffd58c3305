// Package gcode formats the handful of G-code command strings the dryer
// subsystem ever emits, and strips the Klipper scope prefix from device
// names the way Moonraker expects it on the wire.
package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// StripScope drops the first whitespace-delimited token of a Klipper
// object name, e.g. "heater_generic dryer_1_heater" -> "dryer_1_heater".
// Names with no scope prefix are returned unchanged.
func StripScope(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return name
	}
	return strings.Join(parts[1:], " ")
}

// SetHeaterTemperature formats a SET_HEATER_TEMPERATURE command.
func SetHeaterTemperature(heaterName string, target float64) string {
	return fmt.Sprintf("SET_HEATER_TEMPERATURE HEATER=%s TARGET=%s", StripScope(heaterName), formatFloat(target))
}

// SetServoAngle formats a SET_SERVO command. angle is a whole number of
// degrees, the resolution servos are driven at.
func SetServoAngle(servoName string, angle int) string {
	return fmt.Sprintf("SET_SERVO SERVO=%s ANGLE=%d", StripScope(servoName), angle)
}

// SetLED formats a SET_LED command for one pixel of an addressable strip.
// index is 0-based internally; Klipper's SET_LED INDEX is 1-based, so the
// wire command emits index+1.
func SetLED(ledName string, index int, r, g, b float64) string {
	return fmt.Sprintf("SET_LED LED=%s INDEX=%d RED=%s GREEN=%s BLUE=%s",
		StripScope(ledName), index+1, formatFloat(r), formatFloat(g), formatFloat(b))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
