package dryer

import "time"

// Row is one tick's telemetry log entry, persisted by the store and
// broadcast to the telemetry hub.
type Row struct {
	DryerID          string    `json:"dryer_id"`
	Timestamp        time.Time `json:"timestamp"`
	Status           Phase     `json:"status"`
	CurrentPresetID  *string   `json:"current_preset_id,omitempty"`
	HeaterTemperature float64  `json:"heater_temperature"`
	HeaterIsOn       bool      `json:"heater_is_on"`
	HeaterFanIsRun   bool      `json:"heater_fan_is_run"`
	Temperature      float64   `json:"temperature"`
	ServoIsOpen      *bool     `json:"servo_is_open"`
	AbsoluteHumidity float64   `json:"absolute_humidity"`
	RelativeHumidity float64   `json:"relative_humidity"`
	TimeLeftDryingS  *float64  `json:"time_left_drying_s,omitempty"`
}
