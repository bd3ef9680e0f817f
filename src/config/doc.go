// Package config defines the configuration for a probe process.
//
// Regardless of how a probe is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, a probe relies on a data directory, defined by Config.DataDir,
// where it expects to find a few additional files:
//
//	priv_key   // the node's identity key, created on first start when no id is configured.
//	peers.json // (optional) a JSON list of {"id", "addr"} entries.
//	probe.toml // (optional) a configuration file read by the command line.
//	trace_db   // the badger database of the epoch trace, when store is set.
package config
