package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for probe
var RootCmd = &cobra.Command{
	Use:              "probe",
	Short:            "probe node",
	TraverseChildren: true,
}
