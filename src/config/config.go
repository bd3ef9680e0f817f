package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/probe/src/common"
	"github.com/mosaicnetworks/probe/src/crypto/keys"
	"github.com/mosaicnetworks/probe/src/discovery"
	"github.com/mosaicnetworks/probe/src/node"
	"github.com/mosaicnetworks/probe/src/optimize"
	"github.com/mosaicnetworks/probe/src/peers"
	"github.com/mosaicnetworks/probe/src/wire"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database of the epoch trace.
	DefaultBadgerFile = "trace_db"
)

// Default configuration values.
const (
	DefaultLogLevel      = "info"
	DefaultBindAddr      = "127.0.0.1:2000"
	DefaultWorkers       = 1
	DefaultEpochInterval = 5 * time.Second
	DefaultWindow        = 1 * time.Second
	DefaultDim           = 3
	DefaultRule          = optimize.RuleMean
	DefaultSelfWeight    = 0.5
	DefaultPrecision     = optimize.MetricDelta
	DefaultInit          = node.InitRandom
	DefaultBeta          = 0.9
	DefaultMaxPeers      = 64
	DefaultMaxInFlight   = 16
	DefaultMaxBody       = 64 * 1024
	DefaultPeerTemplate  = peers.DefaultTemplate
	DefaultPortBase      = peers.DefaultPortBase
	DefaultStore         = false
	DefaultTraceSize     = 1000
	DefaultEtcdPrefix    = discovery.DefaultPrefix
	DefaultEtcdTTL       = discovery.DefaultTTL
	DefaultHTTPTimeout   = 2 * time.Second
)

// Config contains all the configuration properties of a probe process.
type Config struct {
	// DataDir is the top-level directory containing the probe's key, address
	// book and database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of the info and debug output.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port of the HTTP service. It serves the
	// command ingress as well as peer exchanges.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is the base URL peers use to reach this process. It
	// defaults to http://BindAddr.
	AdvertiseAddr string `mapstructure:"advertise"`

	// ID is the ID of the first worker. Empty derives it from the key in
	// DataDir.
	ID string `mapstructure:"id"`

	// Workers is the number of nodes hosted by the process. Worker i gets
	// ID+i and is served under /worker/{ID+i}.
	Workers int `mapstructure:"workers"`

	// Moniker defines the friendly name of this process.
	Moniker string `mapstructure:"moniker"`

	// EpochInterval is the delay between two epochs.
	EpochInterval time.Duration `mapstructure:"epoch-interval"`

	// Window bounds the time an epoch waits for peer responses.
	Window time.Duration `mapstructure:"window"`

	// Dim is the dimension of the optimization variable.
	Dim int `mapstructure:"dim"`

	// Rule is the aggregation rule: mean, median or coordinate.
	Rule string `mapstructure:"rule"`

	// Fit tunes the coordinate rule: lr, min-lr, lr-factor, patience,
	// max-iters and momentum.
	optimize.Fit `mapstructure:",squash"`

	// SelfWeight is the weight of a node's own value under the mean rule.
	SelfWeight float64 `mapstructure:"self-weight"`

	// Precision selects the convergence metric: delta, target or rtt.
	Precision string `mapstructure:"precision"`

	// Target is the fixed point of the target metric, as comma separated
	// numbers.
	Target string `mapstructure:"target"`

	// Init picks the starting value when start_optimize carries none.
	Init string `mapstructure:"init"`

	// Beta is the smoothing factor of per-peer round-trip estimates.
	Beta float64 `mapstructure:"beta"`

	// MaxPeers bounds the registry of each node.
	MaxPeers int `mapstructure:"max-peers"`

	// MaxInFlight bounds the concurrent exchanges of an epoch.
	MaxInFlight int `mapstructure:"max-inflight"`

	// MaxBody bounds HTTP request and response bodies, in bytes.
	MaxBody int64 `mapstructure:"max-body"`

	// PeerTemplate derives peer addresses from peer IDs when neither etcd
	// nor peers.json know them.
	PeerTemplate string `mapstructure:"peer-template"`

	// PortBase is added to a peer ID to fill the {port} placeholder.
	PortBase int `mapstructure:"port-base"`

	// Store keeps the epoch trace in a badger database instead of memory.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// TraceSize is the number of epoch records kept per node.
	TraceSize int `mapstructure:"trace-size"`

	// EtcdEndpoints enables etcd discovery.
	EtcdEndpoints []string `mapstructure:"etcd-endpoints"`

	// EtcdPrefix is the key prefix of registrations.
	EtcdPrefix string `mapstructure:"etcd-prefix"`

	// EtcdTTL is the lease TTL of registrations, in seconds.
	EtcdTTL int64 `mapstructure:"etcd-ttl"`

	// HTTPTimeout bounds a single outgoing exchange, on top of the window.
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`

	// Seed feeds the random initializer. Zero picks a time based seed.
	Seed int64 `mapstructure:"seed"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:       DefaultDataDir(),
		LogLevel:      DefaultLogLevel,
		BindAddr:      DefaultBindAddr,
		Workers:       DefaultWorkers,
		EpochInterval: DefaultEpochInterval,
		Window:        DefaultWindow,
		Dim:           DefaultDim,
		Rule:          DefaultRule,
		Fit:           optimize.DefaultFit(),
		SelfWeight:    DefaultSelfWeight,
		Precision:     DefaultPrecision,
		Init:          DefaultInit,
		Beta:          DefaultBeta,
		MaxPeers:      DefaultMaxPeers,
		MaxInFlight:   DefaultMaxInFlight,
		MaxBody:       DefaultMaxBody,
		PeerTemplate:  DefaultPeerTemplate,
		PortBase:      DefaultPortBase,
		Store:         DefaultStore,
		DatabaseDir:   DefaultDatabaseDir(),
		TraceSize:     DefaultTraceSize,
		EtcdPrefix:    DefaultEtcdPrefix,
		EtcdTTL:       DefaultEtcdTTL,
		HTTPTimeout:   DefaultHTTPTimeout,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.SetDataDir(t.TempDir())
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, keys.DefaultKeyfile)
}

// Advertise returns the base URL under which this process is reachable.
func (c *Config) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return "http://" + c.BindAddr
}

// NodeConfig builds the engine configuration of one worker.
func (c *Config) NodeConfig(moniker string) (*node.Config, error) {
	var target []float64
	if c.Target != "" {
		v, err := wire.ParseVector(c.Target)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		target = v
	}

	conf := node.DefaultConfig()
	conf.Moniker = moniker
	conf.EpochInterval = c.EpochInterval
	conf.Window = c.Window
	conf.Dim = c.Dim
	conf.Rule = c.Rule
	conf.Fit = c.Fit
	conf.SelfWeight = c.SelfWeight
	conf.Precision = c.Precision
	conf.Target = target
	conf.Init = c.Init
	conf.Beta = c.Beta
	conf.MaxPeers = c.MaxPeers
	conf.MaxInFlight = c.MaxInFlight
	conf.Seed = c.Seed
	conf.Logger = c.Logger().Logger

	return conf, nil
}

// Logger returns a formatted logrus Entry, with prefix set to "probe".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				lfshook.PathMap{
					logrus.InfoLevel:  c.LogFile,
					logrus.DebugLevel: c.LogFile,
					logrus.WarnLevel:  c.LogFile,
					logrus.ErrorLevel: c.LogFile,
				},
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "probe")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level probe data
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Probe")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Probe")
		} else {
			return filepath.Join(home, ".probe")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
