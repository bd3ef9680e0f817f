package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mosaicnetworks/probe/src/config"
	"github.com/mosaicnetworks/probe/src/probe"
	"github.com/mosaicnetworks/probe/src/telemetry"
	"github.com/mosaicnetworks/probe/src/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a probe process
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runProbe,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runProbe(cmd *cobra.Command, args []string) error {
	telemetry.SetBuildInfo(version.Version, version.GitCommit)

	engine := probe.NewProbe(&_config.Probe)

	if err := engine.Init(); err != nil {
		_config.Probe.Logger().WithError(err).Error("Cannot initialize engine")
		engine.Shutdown()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run()
	}()

	select {
	case err := <-errCh:
		engine.Shutdown()
		return err
	case <-ctx.Done():
		engine.Shutdown()
		return <-errCh
	}
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	c := &_config.Probe

	cmd.Flags().String("datadir", c.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", c.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", c.LogFile, "Also write logs to this file")
	cmd.Flags().String("moniker", c.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", c.BindAddr, "Listen IP:Port of the HTTP service")
	cmd.Flags().StringP("advertise", "a", c.AdvertiseAddr, "Base URL advertised to peers")
	cmd.Flags().Int64("max-body", c.MaxBody, "Max size of HTTP bodies, in bytes")
	cmd.Flags().Duration("http-timeout", c.HTTPTimeout, "Timeout of outgoing exchanges, on top of the window")

	// Identity
	cmd.Flags().String("id", c.ID, "ID of the first worker (derived from the key if empty)")
	cmd.Flags().Int("workers", c.Workers, "Number of nodes hosted by this process")

	// Addresses
	cmd.Flags().String("peer-template", c.PeerTemplate, "Peer address template ({id}, {hex}, {port})")
	cmd.Flags().Int("port-base", c.PortBase, "Added to a peer ID to fill {port}")
	cmd.Flags().StringSlice("etcd-endpoints", c.EtcdEndpoints, "etcd endpoints for discovery")
	cmd.Flags().String("etcd-prefix", c.EtcdPrefix, "etcd key prefix")
	cmd.Flags().Int64("etcd-ttl", c.EtcdTTL, "etcd lease TTL in seconds")

	// Optimization
	cmd.Flags().Duration("epoch-interval", c.EpochInterval, "Time between epochs")
	cmd.Flags().Duration("window", c.Window, "Time an epoch waits for peer responses")
	cmd.Flags().Int("dim", c.Dim, "Dimension of the optimization variable")
	cmd.Flags().String("rule", c.Rule, "Aggregation rule: mean, median, coordinate")
	cmd.Flags().Float64("self-weight", c.SelfWeight, "Weight of the node's own value (mean rule)")
	cmd.Flags().Float64("lr", c.LR, "Initial step size (coordinate rule)")
	cmd.Flags().Float64("min-lr", c.MinLR, "Step size below which the descent stops (coordinate rule)")
	cmd.Flags().Float64("lr-factor", c.Factor, "Step size decay (coordinate rule)")
	cmd.Flags().Int("patience", c.Patience, "Steps without improvement before the step size decays (coordinate rule)")
	cmd.Flags().Int("max-iters", c.MaxIters, "Max descent steps per epoch (coordinate rule)")
	cmd.Flags().Float64("momentum", c.Momentum, "Momentum of the descent (coordinate rule)")
	cmd.Flags().String("precision", c.Precision, "Precision metric: delta, target, rtt")
	cmd.Flags().String("target", c.Target, "Target value of the target metric, comma separated")
	cmd.Flags().String("init", c.Init, "Default starting value: random, zero")
	cmd.Flags().Int64("seed", c.Seed, "Seed of the random starting value (0 for time based)")
	cmd.Flags().Float64("beta", c.Beta, "Smoothing factor of round-trip estimates")
	cmd.Flags().Int("max-peers", c.MaxPeers, "Max size of the peer registry")
	cmd.Flags().Int("max-inflight", c.MaxInFlight, "Max concurrent exchanges per epoch")

	// Store
	cmd.Flags().Bool("store", c.Store, "Keep the epoch trace in badgerDB instead of memory")
	cmd.Flags().String("db", c.DatabaseDir, "Database directory")
	cmd.Flags().Int("trace-size", c.TraceSize, "Number of epoch records kept per node")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Probe.SetDataDir(_config.Probe.DataDir)

	c := &_config.Probe

	// The logger was created before the config file was read.
	c.Logger().Logger.Level = config.LogLevel(c.LogLevel)

	logFields := logrus.Fields{
		"probe.DataDir":       c.DataDir,
		"probe.BindAddr":      c.BindAddr,
		"probe.Advertise":     c.Advertise(),
		"probe.ID":            c.ID,
		"probe.Workers":       c.Workers,
		"probe.LogLevel":      c.LogLevel,
		"probe.Moniker":       c.Moniker,
		"probe.EpochInterval": c.EpochInterval,
		"probe.Window":        c.Window,
		"probe.Dim":           c.Dim,
		"probe.Rule":          c.Rule,
		"probe.Precision":     c.Precision,
		"probe.PeerTemplate":  c.PeerTemplate,
		"probe.Store":         c.Store,
		"probe.EtcdEndpoints": c.EtcdEndpoints,
	}

	if c.Store {
		logFields["probe.DatabaseDir"] = c.DatabaseDir
	}

	c.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// PROBE_EPOCH_INTERVAL=10s overrides --epoch-interval
	viper.SetEnvPrefix("probe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/probe.toml (.json, .yaml also work)
	viper.SetConfigName("probe")               // name of config file (without extension)
	viper.AddConfigPath(_config.Probe.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Probe.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Probe.Logger().Debugf("No config file found in: %s", _config.Probe.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
