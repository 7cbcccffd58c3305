// Package plateau decides whether a dryer's humidity has stalled enough to
// open the vent servo, and whether its fall has since stopped (the smoothed
// series is rising again) so the vent closes, from the bounded humidity ring
// the sensor reader keeps.
package plateau

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Config is the per-dryer plateau thresholds, sourced from the dryer's
// humidity config block.
type Config struct {
	OpenThreshold  float64
	CloseThreshold float64
	// PlateauDuration is the required humidity-ring length; Evaluate is a
	// NO-OP until the ring has accumulated exactly this many samples.
	PlateauDuration int
	WindowSize      int
	MinIntervalS    float64
}

// Decision is the outcome of one evaluation.
type Decision int

const (
	NoOp Decision = iota
	Open
	Close
)

func (d Decision) String() string {
	switch d {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	default:
		return "NOOP"
	}
}

// Analyzer tracks the cooldown timer across ticks; everything else is
// computed fresh from the ring each call.
type Analyzer struct {
	id         string
	lastAction time.Time
	haveLast   bool
	now        func() time.Time
}

// New constructs an Analyzer. id is used only for log correlation.
func New(id string) *Analyzer {
	return &Analyzer{id: id, now: time.Now}
}

// Evaluate runs one tick of the decision matrix against the humidity ring.
// desiredOpen is the servo's current commanded state. Returns NoOp if the
// ring isn't full yet, or if still inside the min-interval cooldown.
func (a *Analyzer) Evaluate(cfg Config, ring []float64, desiredOpen bool) Decision {
	if len(ring) != cfg.PlateauDuration || cfg.WindowSize <= 0 || cfg.WindowSize > len(ring) {
		return NoOp
	}

	smoothed := smooth(ring, cfg.WindowSize)
	amplitude := maxOf(smoothed) - minOf(smoothed)
	netChange := smoothed[len(smoothed)-1] - smoothed[0]

	openPlateau := amplitude < cfg.OpenThreshold
	fallingStopped := isFallingStopped(smoothed, cfg.CloseThreshold)

	now := a.now()
	if a.haveLast && now.Sub(a.lastAction).Seconds() < cfg.MinIntervalS {
		log.Debugf("plateau: id=%s cooldown active amp=%.3f net=%.3f openPlateau=%v fallingStopped=%v",
			a.id, amplitude, netChange, openPlateau, fallingStopped)
		return NoOp
	}

	performClose := desiredOpen && (fallingStopped || (openPlateau && fallingStopped))
	performOpen := !desiredOpen && openPlateau && !fallingStopped

	switch {
	case performClose:
		a.lastAction, a.haveLast = now, true
		log.Infof("plateau: id=%s CLOSE amp=%.3f net=%.3f openPlateau=%v fallingStopped=%v window=%d ring=%d",
			a.id, amplitude, netChange, openPlateau, fallingStopped, cfg.WindowSize, len(ring))
		return Close
	case performOpen:
		a.lastAction, a.haveLast = now, true
		log.Infof("plateau: id=%s OPEN amp=%.3f net=%.3f openPlateau=%v fallingStopped=%v window=%d ring=%d",
			a.id, amplitude, netChange, openPlateau, fallingStopped, cfg.WindowSize, len(ring))
		return Open
	default:
		log.Debugf("plateau: id=%s NOOP desiredOpen=%v amp=%.3f net=%.3f openPlateau=%v fallingStopped=%v",
			a.id, desiredOpen, amplitude, netChange, openPlateau, fallingStopped)
		return NoOp
	}
}

// smooth returns the N-W+1 moving-average points over data with window W.
func smooth(data []float64, window int) []float64 {
	n := len(data) - window + 1
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, v := range data[i : i+window] {
			sum += v
		}
		out[i] = sum / float64(window)
	}
	return out
}

// isFallingStopped reproduces the exact floating-point disjunction: the
// series rose by at least 0.1 from its first to its last point (net
// descent <= -0.1), or its total descent
// equals its peak-to-trough amplitude (i.e. it never reversed) while that
// amplitude is below close_threshold.
func isFallingStopped(smoothed []float64, closeThreshold float64) bool {
	change := -(smoothed[len(smoothed)-1] - smoothed[0])
	if change <= -0.1 {
		return true
	}
	plateauChange := maxOf(smoothed) - minOf(smoothed)
	return change == plateauChange && plateauChange < closeThreshold
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
