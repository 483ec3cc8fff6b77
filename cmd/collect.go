package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/rpc"
)

// NewCollectCommand returns the command to collect a delegation chain from
// the capabilities stored in the subject's own zone.
func NewCollectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Resolve an attribute using the capabilities stored in your zone",
		Long: `Collect asks a credmesh server to prove an attribute for the zone owned by
the given private key, drawing on the private delegate records stored in that
zone instead of explicitly presented capabilities. The printed capabilities
are the ones a later verify needs.`,
		RunE:         runCollect,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(keyFlag, flags.Lookup(keyFlag))
			util.MustBindPFlag(issuerFlag, flags.Lookup(issuerFlag))
			util.MustBindPFlag(attributeFlag, flags.Lookup(attributeFlag))
			bindClientFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(keyFlag, "", "(required) the subject's private key, owner of the zone to collect from")
	flags.String(issuerFlag, "", "(required) the public key of the principal whose attribute is being collected")
	flags.String(attributeFlag, "", "(required) the attribute being collected, in the issuer's namespace")
	registerClientFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	subjectKey, err := crypto.ParsePrivateKey(viper.GetString(keyFlag))
	if err != nil {
		return fmt.Errorf("parse subject key: %w", err)
	}

	issuer, err := crypto.ParsePublicKey(viper.GetString(issuerFlag))
	if err != nil {
		return fmt.Errorf("parse issuer key: %w", err)
	}

	issuerAttr, err := attribute.Parse(viper.GetString(attributeFlag))
	if err != nil {
		return fmt.Errorf("parse attribute: %w", err)
	}

	direction, err := parseDirection(viper.GetString(directionFlag))
	if err != nil {
		return err
	}

	client, conn, err := dialResolver()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := resolveContext(cmd.Context())
	defer cancel()

	update, err := client.Collect(ctx, &rpc.CollectRequest{
		Direction:       direction,
		SubjectKey:      subjectKey,
		Issuer:          issuer,
		IssuerAttribute: issuerAttr,
	})
	if err != nil {
		return err
	}

	return printResult(cmd.OutOrStdout(), update.Result)
}
