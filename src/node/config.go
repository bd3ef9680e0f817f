package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/sirupsen/logrus"
)

// Init modes for the default starting value.
const (
	InitRandom = "random"
	InitZero   = "zero"
)

// Config contains the parameters of the optimization engine.
type Config struct {
	// Moniker names the node in logs and metrics.
	Moniker string

	// EpochInterval is the delay between the end of an epoch and the start of
	// the next one.
	EpochInterval time.Duration `mapstructure:"epoch-interval"`

	// Window bounds the time an epoch waits for peer responses.
	Window time.Duration `mapstructure:"window"`

	// Dim is the dimension of the optimization variable.
	Dim int `mapstructure:"dim"`

	// Rule is the aggregation rule: mean, median or coordinate.
	Rule string `mapstructure:"rule"`

	// Fit tunes the coordinate rule.
	Fit optimize.Fit `mapstructure:",squash"`

	// SelfWeight is the weight of a node's own value under the mean rule.
	SelfWeight float64 `mapstructure:"self-weight"`

	// Precision selects the convergence metric: delta, target or rtt.
	Precision string `mapstructure:"precision"`

	// Target is the fixed point of the target metric.
	Target []float64 `mapstructure:"target"`

	// Init picks the starting value when start_optimize carries no data:
	// random or zero.
	Init string `mapstructure:"init"`

	// Beta is the smoothing factor of the per-peer round-trip estimate.
	Beta float64 `mapstructure:"beta"`

	// MaxPeers bounds the registry.
	MaxPeers int `mapstructure:"max-peers"`

	// MaxInFlight bounds the concurrent exchanges of an epoch.
	MaxInFlight int `mapstructure:"max-inflight"`

	// Seed feeds the random initializer. Zero picks a time based seed.
	Seed int64

	Logger *logrus.Logger
}

// NewConfig ...
func NewConfig(epochInterval time.Duration,
	window time.Duration,
	dim int,
	rule string,
	selfWeight float64,
	logger *logrus.Logger) *Config {

	conf := DefaultConfig()
	conf.EpochInterval = epochInterval
	conf.Window = window
	conf.Dim = dim
	conf.Rule = rule
	conf.SelfWeight = selfWeight
	conf.Logger = logger

	return conf
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		EpochInterval: 5 * time.Second,
		Window:        1 * time.Second,
		Dim:           3,
		Rule:          optimize.RuleMean,
		Fit:           optimize.DefaultFit(),
		SelfWeight:    0.5,
		Precision:     optimize.MetricDelta,
		Init:          InitRandom,
		Beta:          0.9,
		MaxPeers:      64,
		MaxInFlight:   16,
		Logger:        logger,
	}
}

// TestConfig returns a configuration for tests. Epochs never start on their
// own: tests drive them through the control timer.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.EpochInterval = time.Hour
	config.Window = 200 * time.Millisecond
	config.Dim = 1
	config.Init = InitZero
	config.Seed = 1
	config.Moniker = t.Name()
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}
