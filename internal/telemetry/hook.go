package telemetry

import "github.com/sirupsen/logrus"

// Hook forwards application log entries onto the app_logs/dryer_logs MQTT
// channels, the same per-tick-stats-adjacent broadcast the teacher's
// ConnectMqtt gives every published cache key. Entries tagged with a
// "dryer" field (the same field the supervisor/controller already attach
// via log.WithField("dryer", id)) additionally go to dryer_logs. Entries
// that are the hub's own plumbing diagnostics ("component":"telemetry")
// are never forwarded, since broadcasting telemetry's own publish
// failures back over telemetry would recurse.
type Hook struct {
	hub *Hub
}

// NewHook builds a logrus.Hook that broadcasts through hub. Install with
// logrus.AddHook on the process-wide logger.
func NewHook(hub *Hub) *Hook {
	return &Hook{hub: hub}
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	if entry.Data["component"] == "telemetry" {
		return nil
	}

	record := make(map[string]interface{}, len(entry.Data)+2)
	for k, v := range entry.Data {
		record[k] = v
	}
	record["level"] = entry.Level.String()
	record["message"] = entry.Message

	h.hub.LogApp(record)
	if _, ok := entry.Data["dryer"]; ok {
		h.hub.LogDryer(record)
	}
	return nil
}
