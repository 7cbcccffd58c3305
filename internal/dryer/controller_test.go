package dryer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idryer/dryerd/internal/heater"
	"github.com/idryer/dryerd/internal/led"
	"github.com/idryer/dryerd/internal/moonraker"
	"github.com/idryer/dryerd/internal/sensor"
	"github.com/idryer/dryerd/internal/servo"
)

type fakeState struct {
	temperature float64
	humidity    float64
	power       float64
}

// newFakeMoonraker serves every query with the same reading for whatever
// object names were requested, and acks every gcode POST. Good enough to
// drive the controller's decision logic without a live Moonraker.
func newFakeMoonraker(t *testing.T, heaterName string, maxTemp float64, state *fakeState) *moonraker.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		names := strings.Split(r.URL.RawQuery, "&")
		status := map[string]interface{}{}
		for _, name := range names {
			if name == "configfile" {
				status["configfile"] = map[string]interface{}{
					"settings": map[string]interface{}{
						strings.ToLower(heaterName): map[string]interface{}{"max_temp": maxTemp},
					},
				}
				continue
			}
			status[name] = map[string]interface{}{
				"temperature": state.temperature,
				"humidity":    state.humidity,
				"power":       state.power,
				"speed":       0.0,
				"value":       500.0,
				"color_data":  [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
			}
		}
		env := map[string]interface{}{"result": map[string]interface{}{"status": status}}
		_ = json.NewEncoder(w).Encode(env)
	}))
	t.Cleanup(srv.Close)
	return moonraker.New(srv.URL, "")
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testConfig(id string) Config {
	return Config{
		ID:   id,
		Name: id,
		Servo: servo.Config{
			DeviceName: id + "_servo", CloseAngle: 0, OpenAngle: 90,
			SoftStep: 90, SoftSleep: 0, MinInterval: time.Second,
		},
		Heater: heater.Config{DeviceName: id + "_heater", FanDeviceName: id + "_fan"},
		Sensor: sensor.Config{DeviceName: id + "_sensor", RingCapacity: 5},
		LED:    led.Config{DeviceName: id + "_led", Brightness: 100, PixelCount: 4},
		Humidity: HumidityConfig{
			OpenThreshold: 0.5, CloseThreshold: 0.3,
			PlateauDuration: 5, PlateauWindowSize: 3, TimerDryingRange: 2,
		},
	}
}

func newTestController(t *testing.T, state *fakeState, maxTemp float64) *Controller {
	t.Helper()
	cfg := testConfig("d0")
	client := newFakeMoonraker(t, cfg.Heater.DeviceName, maxTemp, state)
	c, err := New(client, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func TestNewRejectsInvalidHumidityConfig(t *testing.T) {
	cfg := testConfig("d0")
	cfg.Humidity.PlateauWindowSize = 10
	cfg.Humidity.PlateauDuration = 5
	client := moonraker.New("http://127.0.0.1:1", "")
	_, err := New(client, cfg, testLogger())
	assert.Error(t, err)
}

func TestDryingTransitionsToTimerDryingAtHumidityBoundary(t *testing.T) {
	// Boundary case from §8: preset.humidity == median_RH still transitions
	// (condition is >=).
	state := &fakeState{temperature: 25, humidity: 30}
	c := newTestController(t, state, 80)

	preset := &Preset{ID: "p1", Temperature: 50, MaxTemperatureDelta: 20, Humidity: 30, DryTimeMinutes: 1}
	require.NoError(t, c.SetPreset(context.Background(), preset))
	assert.Equal(t, Drying, c.Phase())

	status, err := c.client.Query(context.Background(), testDeviceNames(c)...)
	require.NoError(t, err)
	_, err = c.Tick(context.Background(), status, preset)
	require.NoError(t, err)

	assert.Equal(t, TimerDrying, c.Phase())
}

func testDeviceNames(c *Controller) []string {
	return c.DeviceNames()
}

func TestPendingTickTurnsHeaterOff(t *testing.T) {
	// Universal invariant #1: the last heater command in a PENDING tick is
	// set(0).
	state := &fakeState{temperature: 25, humidity: 30, power: 1}
	c := newTestController(t, state, 80)

	status, err := c.client.Query(context.Background(), testDeviceNames(c)...)
	require.NoError(t, err)
	_, err = c.Tick(context.Background(), status, nil)
	require.NoError(t, err)

	assert.Equal(t, Pending, c.Phase())
	assert.Equal(t, 0.0, c.heater.Target())
}

func TestReconcileForcesPendingWhenLinkMissing(t *testing.T) {
	// S4: link disappears mid TIMER_DRYING -> PENDING within one tick,
	// heater target 0, time_left cleared.
	state := &fakeState{temperature: 25, humidity: 30}
	c := newTestController(t, state, 80)
	preset := &Preset{ID: "p1", Temperature: 50, MaxTemperatureDelta: 20, Humidity: 40, DryTimeMinutes: 1}
	require.NoError(t, c.SetPreset(context.Background(), preset))
	require.NoError(t, c.setPhase(context.Background(), TimerDrying, preset))

	status, err := c.client.Query(context.Background(), testDeviceNames(c)...)
	require.NoError(t, err)
	row, err := c.Tick(context.Background(), status, nil)
	require.NoError(t, err)

	assert.Equal(t, Pending, c.Phase())
	assert.Equal(t, "", c.CurrentPresetID())
	assert.Nil(t, row.TimeLeftDryingS)
	assert.Equal(t, 0.0, c.heater.Target())
}

func TestReconcileStorageDropQuirkPreservesPresetSnapshot(t *testing.T) {
	// Documented quirk (DESIGN.md #4): the source always re-snapshots the
	// fresh preset even on the branch that just forced PENDING, so a dryer
	// that drops to PENDING here ends the tick with a non-nil preset again.
	state := &fakeState{temperature: 25, humidity: 5}
	c := newTestController(t, state, 80)
	stored := &Preset{ID: "p1", Temperature: 50, Humidity: 10, DryTimeMinutes: 1, StorageType: StorageHumidity}
	require.NoError(t, c.setPhase(context.Background(), HumidityStorage, stored))

	fresh := *stored
	fresh.StorageType = StorageNone

	status, err := c.client.Query(context.Background(), testDeviceNames(c)...)
	require.NoError(t, err)
	_, err = c.Tick(context.Background(), status, &fresh)
	require.NoError(t, err)

	assert.Equal(t, Pending, c.Phase())
	assert.Equal(t, "p1", c.CurrentPresetID(), "preset snapshot is unconditionally replaced, even after forcing PENDING")
}

func TestHumidityStorageTimeLeftExitMismatch(t *testing.T) {
	// Open Question #1: displayed time_left uses dry_time, the exit
	// condition uses humidity_storage_dry_time -- preserved as a known
	// mismatch, not reconciled.
	state := &fakeState{temperature: 25, humidity: 11}
	c := newTestController(t, state, 80)
	preset := &Preset{
		ID: "p1", Temperature: 50, Humidity: 10, DryTimeMinutes: 10,
		HumidityStorageMinutes: 1, StorageType: StorageHumidity,
	}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	require.NoError(t, c.setPhase(context.Background(), HumidityStorage, preset))
	started := clock
	c.dryingStart = &started

	clock = clock.Add(90 * time.Second) // past humidity_storage_dry_time (60s), short of dry_time (600s)

	status, err := c.client.Query(context.Background(), testDeviceNames(c)...)
	require.NoError(t, err)
	row, err := c.Tick(context.Background(), status, preset)
	require.NoError(t, err)

	require.NotNil(t, row.TimeLeftDryingS)
	assert.Greater(t, *row.TimeLeftDryingS, 0.0, "displayed countdown is still based on dry_time, not yet exhausted")
	assert.Nil(t, c.dryingStart, "exit condition (humidity_storage_dry_time) has already fired")
}
