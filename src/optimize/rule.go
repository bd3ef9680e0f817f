package optimize

import (
	"fmt"

	"github.com/mosaicnetworks/probe/src/common"
)

// Rule names.
const (
	RuleMean       = "mean"
	RuleMedian     = "median"
	RuleCoordinate = "coordinate"
)

// Sample is what a node learned from one peer during an epoch: the peer's
// value and the smoothed round-trip time to it, in milliseconds.
type Sample struct {
	Value Vector
	RTT   float64
}

// Rule combines a node's own value with the samples received from peers
// during one epoch. Implementations must not modify their arguments. With no
// samples the result equals own.
type Rule interface {
	Name() string
	Aggregate(own Vector, samples []Sample) Vector
}

// NewRule builds the rule registered under name. selfWeight is only read by
// the mean rule and fit by the coordinate rule.
func NewRule(name string, selfWeight float64, fit Fit) (Rule, error) {
	switch name {
	case RuleMean, "":
		if selfWeight < 0 || selfWeight > 1 {
			return nil, fmt.Errorf("self-weight %v out of [0, 1]", selfWeight)
		}
		return &Mean{SelfWeight: selfWeight}, nil
	case RuleMedian:
		return &Median{}, nil
	case RuleCoordinate:
		return NewCoordinate(fit)
	default:
		return nil, fmt.Errorf("unknown aggregation rule %q", name)
	}
}

// Mean moves a node towards the average of its peers:
//
//	next = w*own + (1-w)*mean(peers)
type Mean struct {
	SelfWeight float64
}

// Name ...
func (m *Mean) Name() string { return RuleMean }

// Aggregate implements Rule.
func (m *Mean) Aggregate(own Vector, samples []Sample) Vector {
	if len(samples) == 0 {
		return own.Clone()
	}

	next := make(Vector, len(own))
	n := float64(len(samples))
	for i := range own {
		var sum float64
		for _, s := range samples {
			sum += s.Value[i]
		}
		next[i] = m.SelfWeight*own[i] + (1-m.SelfWeight)*(sum/n)
	}
	return next
}

// Median takes the coordinate-wise median of the node's own value and its
// peers' values.
type Median struct{}

// Name ...
func (m *Median) Name() string { return RuleMedian }

// Aggregate implements Rule.
func (m *Median) Aggregate(own Vector, samples []Sample) Vector {
	if len(samples) == 0 {
		return own.Clone()
	}

	next := make(Vector, len(own))
	column := make([]float64, 0, len(samples)+1)
	for i := range own {
		column = append(column[:0], own[i])
		for _, s := range samples {
			column = append(column, s.Value[i])
		}
		next[i] = common.Median(column)
	}
	return next
}
