package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idryer/dryerd/internal/moonraker"
)

func TestAbsoluteHumidityDeterministic(t *testing.T) {
	a := AbsoluteHumidity(25, 30)
	b := AbsoluteHumidity(25, 30)
	assert.Equal(t, a, b)
	assert.InDelta(t, 6.9, a, 0.3)
}

func TestReadComputesMedianAndFillsRing(t *testing.T) {
	r := New(Config{DeviceName: "sensor", RingCapacity: 5})
	status := moonraker.Status{"sensor": {"temperature": 25.0, "humidity": 30.0}}

	var last Reading
	var ok bool
	for i := 0; i < 5; i++ {
		last, ok = r.Read(status)
		require.True(t, ok)
	}

	assert.Equal(t, 30.0, last.MedianRH)
	assert.Len(t, r.HumidityRing(), 5)
}

func TestReadMissingFieldsReturnsFalse(t *testing.T) {
	r := New(Config{DeviceName: "sensor", RingCapacity: 5})
	_, ok := r.Read(moonraker.Status{})
	assert.False(t, ok)
}

func TestMedianFilterSmoothsSpike(t *testing.T) {
	r := New(Config{DeviceName: "sensor", RingCapacity: 10})
	seq := []float64{30, 30, 30, 30, 99, 30, 30}
	var lastMedian float64
	for _, rh := range seq {
		reading, ok := r.Read(moonraker.Status{"sensor": {"temperature": 25.0, "humidity": rh}})
		require.True(t, ok)
		lastMedian = reading.MedianRH
	}
	assert.Equal(t, 30.0, lastMedian, "a single spike should be filtered out of a 5-sample median window")
}
