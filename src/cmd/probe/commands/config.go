package commands

import (
	"github.com/mosaicnetworks/probe/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Probe config.Config `mapstructure:",squash"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Probe: *config.NewDefaultConfig(),
	}
}
