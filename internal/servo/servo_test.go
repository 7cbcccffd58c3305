package servo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idryer/dryerd/internal/moonraker"
)

// fakeServo simulates a Klipper servo object: pulse width equals the last
// commanded angle. Good enough to exercise calibration and soft motion.
type fakeServo struct {
	mu          sync.Mutex
	currentPW   float64
	commands    []int
	gcodeCalls  int32
	queryStalls time.Duration
}

func newFakeServoServer(f *fakeServo) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/printer/objects/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		pw := f.currentPW
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"status":{"servo":{"value":` + strconv.FormatFloat(pw, 'f', -1, 64) + `}}}}`))
	})
	mux.HandleFunc("/printer/gcode/script", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.gcodeCalls, 1)
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Script string `json:"script"`
		}
		_ = json.Unmarshal(body, &payload)
		angle := parseAngle(payload.Script)
		f.mu.Lock()
		f.commands = append(f.commands, angle)
		f.currentPW = float64(angle)
		f.mu.Unlock()
		w.Write([]byte(`{}`))
	})
	return httptest.NewServer(mux)
}

func parseAngle(script string) int {
	idx := strings.Index(script, "ANGLE=")
	if idx < 0 {
		return -1
	}
	n, _ := strconv.Atoi(script[idx+len("ANGLE="):])
	return n
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestInitCalibratesAndClosesFast(t *testing.T) {
	f := &fakeServo{}
	srv := newFakeServoServer(f)
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	cfg := Config{DeviceName: "servo", CloseAngle: 0, OpenAngle: 90, SoftStep: 30, SoftSleep: time.Millisecond, MinInterval: time.Second}
	d := New(client, cfg, testLog())

	require.NoError(t, d.Init(context.Background()))

	desired := d.DesiredOpen()
	require.NotNil(t, desired)
	assert.False(t, *desired)

	physical := d.PhysicalOpen()
	require.NotNil(t, physical)
	assert.False(t, *physical)
}

func TestOpenTwiceEmitsAtMostOneCommandBeyondFirst(t *testing.T) {
	f := &fakeServo{}
	srv := newFakeServoServer(f)
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	cfg := Config{DeviceName: "servo", CloseAngle: 0, OpenAngle: 90, SoftStep: 90, SoftSleep: time.Millisecond, MinInterval: time.Second}
	d := New(client, cfg, testLog())
	require.NoError(t, d.Init(context.Background()))

	require.NoError(t, d.Open(context.Background(), true))
	callsAfterFirst := atomic.LoadInt32(&f.gcodeCalls)

	require.NoError(t, d.Open(context.Background(), true))
	callsAfterSecond := atomic.LoadInt32(&f.gcodeCalls)

	assert.LessOrEqual(t, callsAfterSecond-callsAfterFirst, int32(1))
}

func TestFastOpenUpdatesPhysicalOpenSynchronously(t *testing.T) {
	f := &fakeServo{}
	srv := newFakeServoServer(f)
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	cfg := Config{DeviceName: "servo", CloseAngle: 0, OpenAngle: 90, SoftStep: 90, SoftSleep: time.Millisecond, MinInterval: time.Second}
	d := New(client, cfg, testLog())
	require.NoError(t, d.Init(context.Background()))

	require.NoError(t, d.Open(context.Background(), true))

	physical := d.PhysicalOpen()
	require.NotNil(t, physical, "fast path must read back pulse width before returning")
	assert.True(t, *physical)
}

func TestSoftMotionSweepsToTarget(t *testing.T) {
	f := &fakeServo{}
	srv := newFakeServoServer(f)
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	cfg := Config{DeviceName: "servo", CloseAngle: 0, OpenAngle: 90, SoftStep: 30, SoftSleep: time.Millisecond, MinInterval: time.Second}
	d := New(client, cfg, testLog())
	require.NoError(t, d.Init(context.Background()))

	require.NoError(t, d.Open(context.Background(), false))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if physical := d.PhysicalOpen(); physical != nil && *physical {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	physical := d.PhysicalOpen()
	require.NotNil(t, physical)
	assert.True(t, *physical)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 90, f.commands[len(f.commands)-1])
}

func TestRetargetCancelsPriorSoftMotion(t *testing.T) {
	f := &fakeServo{}
	srv := newFakeServoServer(f)
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	cfg := Config{DeviceName: "servo", CloseAngle: 0, OpenAngle: 90, SoftStep: 10, SoftSleep: 20 * time.Millisecond, MinInterval: time.Second}
	d := New(client, cfg, testLog())
	require.NoError(t, d.Init(context.Background()))

	require.NoError(t, d.Open(context.Background(), false))
	time.Sleep(15 * time.Millisecond) // let the sweep take a step or two
	require.NoError(t, d.Close(context.Background(), false))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if physical := d.PhysicalOpen(); physical != nil && !*physical {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	physical := d.PhysicalOpen()
	require.NotNil(t, physical)
	assert.False(t, *physical)

	desired := d.DesiredOpen()
	require.NotNil(t, desired)
	assert.False(t, *desired)
}
