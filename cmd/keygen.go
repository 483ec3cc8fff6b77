package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credmesh/credmesh/pkg/crypto"
)

// NewKeygenCommand returns the command to generate a new principal keypair.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new principal keypair",
		Long: `Generate a new ed25519 principal keypair and print it in crockford-base32
form. The public key doubles as the principal's zone name.`,
		RunE: runKeygen,
		Args: cobra.NoArgs,
	}
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\n", key)
	fmt.Fprintf(cmd.OutOrStdout(), "public key:  %s\n", key.Public())

	return nil
}
