package led

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idryer/dryerd/internal/moonraker"
)

func TestSetPixelColorSkipsIdenticalScaledColor(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	d := New(client, Config{DeviceName: "led", Brightness: 100, PixelCount: 4})

	require.NoError(t, d.SetPixelColor(context.Background(), 0, RGB{1, 0, 0}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.NoError(t, d.SetPixelColor(context.Background(), 0, RGB{1, 0, 0}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "identical scaled color must not re-emit")

	require.NoError(t, d.SetPixelColor(context.Background(), 0, RGB{0, 1, 0}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSetPixelColorScalesByBrightness(t *testing.T) {
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody = string(body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := moonraker.New(srv.URL, "")
	d := New(client, Config{DeviceName: "led", Brightness: 50, PixelCount: 4})

	require.NoError(t, d.SetPixelColor(context.Background(), 3, RGB{1, 1, 1}))
	assert.Contains(t, lastBody, "RED=0.5")
	assert.Contains(t, lastBody, "GREEN=0.5")
	assert.Contains(t, lastBody, "BLUE=0.5")
}

func TestSetPixelColorRejectsOutOfRangeIndex(t *testing.T) {
	client := moonraker.New("http://127.0.0.1:0", "")
	d := New(client, Config{DeviceName: "led", Brightness: 100, PixelCount: 4})
	err := d.SetPixelColor(context.Background(), 10, RGB{1, 1, 1})
	require.Error(t, err)
	assert.Equal(t, moonraker.KindInvalidState, moonraker.KindOf(err))
}
