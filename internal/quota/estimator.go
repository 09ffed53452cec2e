package quota

import (
	"sync"
	"time"
)

// adaptiveWeight is the smoothing factor for the history-weighted
// estimate: newer observations dominate older ones.
const adaptiveWeight = 0.3

// Estimator predicts task execution time per resource class according to
// the policy's estimation mode.
type Estimator struct {
	mode EstimationMode

	mu sync.RWMutex
	// static is the fixed per-class table, used in static mode and as the
	// starting point for adaptive mode.
	static map[string]time.Duration
	// history holds the exponentially weighted observed duration per class.
	history map[string]time.Duration
}

// NewEstimator creates an Estimator. The static table may be nil.
func NewEstimator(mode EstimationMode, static map[string]time.Duration) *Estimator {
	if static == nil {
		static = make(map[string]time.Duration)
	}
	return &Estimator{
		mode:    mode,
		static:  static,
		history: make(map[string]time.Duration),
	}
}

// Observe records a completed execution for adaptive estimation.
func (e *Estimator) Observe(class string, elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.history[class]
	if !ok {
		e.history[class] = elapsed
		return
	}
	e.history[class] = time.Duration(adaptiveWeight*float64(elapsed) + (1-adaptiveWeight)*float64(prev))
}

// Estimate returns the expected duration for a task of the given class.
// In external mode the caller-supplied estimate wins when present; other
// modes ignore it. A zero result means no basis for an estimate exists.
func (e *Estimator) Estimate(class string, external time.Duration) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch e.mode {
	case EstimationExternal:
		if external > 0 {
			return external
		}
		return e.static[class]
	case EstimationAdaptive:
		if d, ok := e.history[class]; ok {
			return d
		}
		return e.static[class]
	default:
		return e.static[class]
	}
}
