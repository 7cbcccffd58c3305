// Package sensor reads a dryer's temperature/humidity sensor, derives
// absolute humidity, and maintains the median filters and bounded history
// rings that the plateau analyzer consumes.
//
// The absolute-humidity derivation follows the Magnus/Tetens
// approximation, the same family of saturation-vapor-pressure formula used
// for dew point elsewhere in the retrieved pack (compare
// aluedtke7-dew-point-fan's calcDewPoint, which derives dew point from the
// same (T, RH) pair via a Magnus-form constant pair); here the target
// quantity is absolute humidity in g/m^3 rather than a dew point
// temperature.
package sensor

import (
	"math"

	"github.com/idryer/dryerd/internal/moonraker"
)

const medianFilterSize = 5

// Config is the immutable hardware binding for one dryer's sensor.
type Config struct {
	DeviceName string
	// RingCapacity is the plateau_duration (in samples) both humidity
	// rings are bounded to.
	RingCapacity int
}

// Reading is one tick's processed sensor output.
type Reading struct {
	Temperature      float64
	RelativeHumidity float64
	AbsoluteHumidity float64
	MedianRH         float64
	MedianAH         float64
}

// Reader owns the sensor's runtime filters and rings.
type Reader struct {
	cfg Config

	rhFilter *medianFilter
	ahFilter *medianFilter
	rhRing   *ring
	ahRing   *ring
}

// New constructs a Reader.
func New(cfg Config) *Reader {
	return &Reader{
		cfg:      cfg,
		rhFilter: newMedianFilter(medianFilterSize),
		ahFilter: newMedianFilter(medianFilterSize),
		rhRing:   newRing(cfg.RingCapacity),
		ahRing:   newRing(cfg.RingCapacity),
	}
}

// Read pulls {temperature, humidity} from the batched status, computes
// absolute humidity, pushes both through their median filters, and appends
// the filtered values to their rings.
func (r *Reader) Read(status moonraker.Status) (Reading, bool) {
	temp, ok := status.Float(r.cfg.DeviceName, "temperature")
	if !ok {
		return Reading{}, false
	}
	rh, ok := status.Float(r.cfg.DeviceName, "humidity")
	if !ok {
		return Reading{}, false
	}

	ah := AbsoluteHumidity(temp, rh)

	medianRH := r.rhFilter.Push(rh)
	medianAH := r.ahFilter.Push(ah)
	r.rhRing.Push(medianRH)
	r.ahRing.Push(medianAH)

	return Reading{
		Temperature:      temp,
		RelativeHumidity: rh,
		AbsoluteHumidity: ah,
		MedianRH:         medianRH,
		MedianAH:         medianAH,
	}, true
}

// HumidityRing returns the bounded history of median relative-humidity
// samples the plateau analyzer operates on.
func (r *Reader) HumidityRing() []float64 {
	return r.rhRing.Samples()
}

// AbsoluteHumidity computes grams of water vapor per cubic meter of air
// from temperature (°C) and relative humidity (% RH), via the
// Magnus/Tetens approximation, rounded to 1 decimal. Deterministic: the
// same (T, RH) always yields the same result.
func AbsoluteHumidity(tempC, relHumidity float64) float64 {
	v := 6.112 * math.Exp(17.67*tempC/(tempC+243.5)) * relHumidity * 2.1674 / (tempC + 273.15)
	return math.Round(v*10) / 10
}
