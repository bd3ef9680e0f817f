package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/probe/src/crypto/keys"
	"github.com/mosaicnetworks/probe/src/probe"
	"github.com/spf13/cobra"
)

var keygenDir string

// NewKeygenCmd produces a KeygenCmd which creates the node key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the node key and print the derived node ID",
		RunE:  keygen,
	}

	cmd.Flags().StringVar(&keygenDir, "datadir", _config.Probe.DataDir, "Directory where the key will be written")

	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	key, err := probe.Keygen(keygenDir)
	if err != nil {
		return err
	}

	pub := keys.PublicKeyHex(key.PubKey())
	pubFile := filepath.Join(keygenDir, "key.pub")

	if err := os.WriteFile(pubFile, []byte(pub), 0600); err != nil {
		return fmt.Errorf("Writing public key: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", filepath.Join(keygenDir, keys.DefaultKeyfile))
	fmt.Printf("Your public key has been saved to: %s\n", pubFile)
	fmt.Printf("Your node ID is: %s\n", keys.PublicKeyID(key.PubKey()))

	return nil
}
