package optimize

import "fmt"

// Metric names.
const (
	MetricDelta  = "delta"
	MetricTarget = "target"
	MetricRTT    = "rtt"
)

// Metric computes the precision of an epoch from the value before and after
// aggregation, and the samples the epoch aggregated.
type Metric interface {
	Name() string
	Precision(prev, next Vector, samples []Sample) float64
}

// NewMetric builds the metric registered under name. target is only used by
// the target metric, where a single component is broadcast.
func NewMetric(name string, target []float64, dim int) (Metric, error) {
	switch name {
	case MetricDelta, "":
		return Delta{}, nil
	case MetricTarget:
		t, err := FromInitial(target, dim)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		if !t.Finite() {
			return nil, fmt.Errorf("target: non-finite component")
		}
		return Target{Target: t}, nil
	case MetricRTT:
		return RTT{}, nil
	default:
		return nil, fmt.Errorf("unknown precision metric %q", name)
	}
}

// Delta is the magnitude of the change made by an epoch.
type Delta struct{}

// Name ...
func (Delta) Name() string { return MetricDelta }

// Precision implements Metric.
func (Delta) Precision(prev, next Vector, _ []Sample) float64 {
	return Distance(prev, next)
}

// Target is the distance from the new value to a fixed point.
type Target struct {
	Target Vector
}

// Name ...
func (Target) Name() string { return MetricTarget }

// Precision implements Metric.
func (t Target) Precision(_, next Vector, _ []Sample) float64 {
	return Distance(next, t.Target)
}

// RTT is the mean absolute error, in milliseconds, between the distance from
// the new value to each peer and the measured round-trip time to that peer.
type RTT struct{}

// Name ...
func (RTT) Name() string { return MetricRTT }

// Precision implements Metric.
func (RTT) Precision(_, next Vector, samples []Sample) float64 {
	return RTTLoss(next, samples)
}
