// Package telemetry broadcasts per-tick dryer state over MQTT. Publishing
// is fire-and-forget: a broker hiccup is logged and never blocks the next
// tick, the same non-blocking posture teacher's ConnectMqtt takes toward
// its own per-cache-key publishes.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	// TopicDryersStats carries the Supervisor's whole per-tick batch, one
	// JSON array per tick.
	TopicDryersStats = "dryers_stats"
	// topicDryerStatsFmt carries one dryer's own row, topic per dryer id.
	topicDryerStatsFmt = "dryer_%s_stats"
	// TopicAppLogs carries structured application log records.
	TopicAppLogs = "app_logs"
	// TopicDryerLogs carries structured per-dryer log records.
	TopicDryerLogs = "dryer_logs"

	publishTimeout = 2 * time.Second
)

// Hub owns the MQTT client and exposes the named broadcast channels the
// rest of the subsystem publishes on.
type Hub struct {
	client mqtt.Client
	log    *logrus.Entry
}

// Connect dials the broker and returns a ready Hub. brokerURL is e.g.
// "tcp://localhost:1883"; username/password may be empty.
func Connect(brokerURL, username, password string, log *logrus.Entry) (*Hub, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("dryerd").
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("telemetry: connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to %s: %w", brokerURL, err)
	}

	return newHub(client, log), nil
}

func newHub(client mqtt.Client, log *logrus.Entry) *Hub {
	return &Hub{client: client, log: log.WithField("component", "telemetry")}
}

// NewWithClient builds a Hub around an already-constructed mqtt.Client,
// for tests that inject a fake client instead of dialing a real broker.
func NewWithClient(client mqtt.Client, log *logrus.Entry) *Hub {
	return newHub(client, log)
}

// Close disconnects from the broker, waiting up to 250ms to flush.
func (h *Hub) Close() {
	h.client.Disconnect(250)
}

// BroadcastBatch publishes one tick's JSON rows to dryers_stats as a single
// JSON array. Per-dryer topics are published separately, by
// BroadcastDryerRow.
func (h *Hub) BroadcastBatch(rows []json.RawMessage) {
	batch, err := json.Marshal(rows)
	if err != nil {
		h.log.WithError(err).Error("marshal telemetry batch failed")
		return
	}
	h.publish(TopicDryersStats, batch)
}

// BroadcastDryerRow publishes one dryer's own row to dryer_{id}_stats.
func (h *Hub) BroadcastDryerRow(dryerID string, row json.RawMessage) {
	h.publish(fmt.Sprintf(topicDryerStatsFmt, dryerID), row)
}

// LogApp forwards a structured application log record to app_logs.
func (h *Hub) LogApp(record interface{}) {
	h.publishJSON(TopicAppLogs, record)
}

// LogDryer forwards a structured per-dryer log record to dryer_logs.
func (h *Hub) LogDryer(record interface{}) {
	h.publishJSON(TopicDryerLogs, record)
}

func (h *Hub) publishJSON(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Errorf("marshal payload for %s failed", topic)
		return
	}
	h.publish(topic, payload)
}

func (h *Hub) publish(topic string, payload []byte) {
	token := h.client.Publish(topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			h.log.Warnf("publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			h.log.WithError(err).Errorf("publish to %s failed", topic)
		}
	}()
}
