package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/rpc"
)

const (
	issuerFlag     = "issuer"
	capabilityFlag = "capability"
)

// ErrNoChainFound is returned by verify and collect when the resolution
// completes without proving a delegation chain.
var ErrNoChainFound = errors.New("no delegation chain found")

// NewVerifyCommand returns the command to verify a delegation chain against a
// credmesh server.
func NewVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify that a subject is authorized to an issuer's attribute",
		Long: `Verify asks a credmesh server to prove that the subject, presenting the
given capabilities, is transitively authorized to the attribute in the
issuer's namespace. Delegation edges are printed as the search discovers
them, followed by the proof chain or a not-found result.`,
		RunE:         runVerify,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(issuerFlag, flags.Lookup(issuerFlag))
			util.MustBindPFlag(attributeFlag, flags.Lookup(attributeFlag))
			util.MustBindPFlag(subjectFlag, flags.Lookup(subjectFlag))
			util.MustBindPFlag(capabilityFlag, flags.Lookup(capabilityFlag))
			bindClientFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(issuerFlag, "", "(required) the public key of the principal whose attribute is being checked")
	flags.String(attributeFlag, "", "(required) the attribute being checked, in the issuer's namespace")
	flags.String(subjectFlag, "", "(required) the public key of the principal claiming the attribute")
	flags.StringArray(capabilityFlag, nil, "a capability presented as proof, in interchange form (repeatable)")
	registerClientFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	issuer, err := crypto.ParsePublicKey(viper.GetString(issuerFlag))
	if err != nil {
		return fmt.Errorf("parse issuer key: %w", err)
	}

	subject, err := crypto.ParsePublicKey(viper.GetString(subjectFlag))
	if err != nil {
		return fmt.Errorf("parse subject key: %w", err)
	}

	issuerAttr, err := attribute.Parse(viper.GetString(attributeFlag))
	if err != nil {
		return fmt.Errorf("parse attribute: %w", err)
	}

	direction, err := parseDirection(viper.GetString(directionFlag))
	if err != nil {
		return err
	}

	var caps []*delegation.Capability
	for _, s := range viper.GetStringSlice(capabilityFlag) {
		c, err := delegation.ParseCapability(s)
		if err != nil {
			return fmt.Errorf("parse capability: %w", err)
		}
		caps = append(caps, c)
	}

	client, conn, err := dialResolver()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := resolveContext(cmd.Context())
	defer cancel()

	stream, err := client.Verify(ctx, &rpc.VerifyRequest{
		Direction:       direction,
		Issuer:          issuer,
		Subject:         subject,
		IssuerAttribute: issuerAttr,
		Capabilities:    caps,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for {
		update, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return errors.New("stream ended without a result")
		}
		if err != nil {
			return err
		}

		if p := update.Progress; p != nil {
			fmt.Fprintf(out, "%s: %s\n", p.Direction, p.Edge)
			continue
		}

		return printResult(out, update.Result)
	}
}

// printResult renders a final resolution result. A not-found result is
// reported through ErrNoChainFound so scripts see a non-zero exit status.
func printResult(out io.Writer, res *rpc.ResultUpdate) error {
	if res == nil {
		return errors.New("malformed resolution update: missing result")
	}

	if !res.Found {
		fmt.Fprintf(out, "no chain found (%d lookups)\n", res.Lookups)
		return ErrNoChainFound
	}

	fmt.Fprintf(out, "chain found (%d lookups)\n", res.Lookups)
	for _, edge := range res.Chain {
		fmt.Fprintf(out, "  %s\n", edge)
	}

	if len(res.Capabilities) > 0 {
		fmt.Fprintln(out, "capabilities:")
		for _, c := range res.Capabilities {
			fmt.Fprintf(out, "  %s\n", c)
		}
	}

	return nil
}
