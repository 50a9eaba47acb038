package reconcile

import (
	"context"
	"errors"
	"time"
)

// Change records one display name that drifted.
type Change struct {
	Key      string `json:"key"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Failure is a key that could not be resolved during a pass.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Report summarizes one pass. Changes and Failures follow registry order.
type Report struct {
	Changes  []Change  `json:"changes"`
	Failures []Failure `json:"failures,omitempty"`
	Checked  int       `json:"checked"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

func (r Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Result labels the pass outcome for metrics.
func (r Report) Result(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case err != nil:
		return "error"
	case len(r.Failures) > 0:
		return "partial"
	default:
		return "ok"
	}
}
