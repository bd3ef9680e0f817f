package optimize

import (
	"fmt"
	"math"
	"math/rand"
)

const fitEps = 1e-6

// Fit tunes the coordinate rule.
type Fit struct {
	// LR is the initial step size.
	LR float64 `mapstructure:"lr"`

	// MinLR ends the descent once the step size falls below it.
	MinLR float64 `mapstructure:"min-lr"`

	// Factor scales the step size down after Patience iterations without a
	// better loss.
	Factor float64 `mapstructure:"lr-factor"`

	Patience int `mapstructure:"patience"`

	// MaxIters bounds the descent steps of one epoch.
	MaxIters int `mapstructure:"max-iters"`

	// Momentum is the weight of the previous step in the next one.
	Momentum float64 `mapstructure:"momentum"`

	// Seed feeds the directions used to separate coincident coordinates.
	Seed int64 `mapstructure:"-"`
}

// DefaultFit ...
func DefaultFit() Fit {
	return Fit{
		LR:       1,
		MinLR:    0.001,
		Factor:   0.1,
		Patience: 50,
		MaxIters: 1000,
		Momentum: 0.9,
	}
}

// Validate ...
func (f Fit) Validate() error {
	switch {
	case !(f.LR > 0):
		return fmt.Errorf("lr must be positive")
	case !(f.MinLR > 0) || f.MinLR > f.LR:
		return fmt.Errorf("min-lr must be in (0, lr]")
	case !(f.Factor > 0 && f.Factor < 1):
		return fmt.Errorf("lr-factor must be in (0, 1)")
	case f.Patience < 0:
		return fmt.Errorf("patience must not be negative")
	case f.MaxIters < 1:
		return fmt.Errorf("max-iters must be at least 1")
	case !(f.Momentum >= 0 && f.Momentum < 1):
		return fmt.Errorf("momentum must be in [0, 1)")
	}
	return nil
}

// Coordinate places a node in a latency space. Every peer pulls or pushes the
// node's value along the line between them until their distance matches the
// round-trip time to that peer. The descent runs with momentum, and its step
// size shrinks by Factor whenever the loss has not improved for Patience
// iterations. It stops after MaxIters steps or when the step size drops below
// MinLR.
type Coordinate struct {
	Fit

	rand *rand.Rand
}

// NewCoordinate ...
func NewCoordinate(fit Fit) (*Coordinate, error) {
	if err := fit.Validate(); err != nil {
		return nil, err
	}
	return &Coordinate{
		Fit:  fit,
		rand: rand.New(rand.NewSource(fit.Seed)),
	}, nil
}

// Name ...
func (c *Coordinate) Name() string { return RuleCoordinate }

// Aggregate implements Rule.
func (c *Coordinate) Aggregate(own Vector, samples []Sample) Vector {
	pos := own.Clone()
	if len(samples) == 0 || len(pos) == 0 {
		return pos
	}

	n := float64(len(samples))
	momentum := Zero(len(pos))
	force := Zero(len(pos))

	lr := c.LR
	best := math.Inf(1)
	patience := 0

	for iter := 0; iter < c.MaxIters && lr >= c.MinLR; iter++ {
		for i := range force {
			force[i] = 0
		}

		for _, s := range samples {
			dist := Distance(pos, s.Value)
			gap := s.RTT - dist

			if dist == 0 {
				// Coincident points have no line between them.
				u := c.direction(len(pos))
				for i := range force {
					force[i] += u[i] * gap
				}
				continue
			}

			for i := range force {
				force[i] += (pos[i] - s.Value[i]) / (dist + fitEps) * gap
			}
		}

		for i := range pos {
			momentum[i] = c.Momentum*momentum[i] + (1-c.Momentum)*force[i]/n
			pos[i] += lr * momentum[i]
		}

		loss := RTTLoss(pos, samples)
		if loss < best {
			best = loss
			patience = 0
		} else {
			patience++
		}
		if patience > c.Patience {
			lr *= c.Factor
			patience = 0
		}
	}

	return pos
}

// direction returns a random unit vector.
func (c *Coordinate) direction(dim int) Vector {
	u := make(Vector, dim)
	for {
		var norm float64
		for i := range u {
			u[i] = c.rand.NormFloat64()
			norm += u[i] * u[i]
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for i := range u {
				u[i] /= norm
			}
			return u
		}
	}
}

// RTTLoss is the mean absolute difference between the distance from pos to
// each sample's value and the sample's round-trip time. It is 0 without
// samples.
func RTTLoss(pos Vector, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(s.RTT - Distance(pos, s.Value))
	}
	return sum / float64(len(samples))
}

// Center returns the centroid of values.
func Center(values []Vector, dim int) Vector {
	c := Zero(dim)
	if len(values) == 0 {
		return c
	}
	for _, v := range values {
		for i := range c {
			c[i] += v[i]
		}
	}
	for i := range c {
		c[i] /= float64(len(values))
	}
	return c
}
