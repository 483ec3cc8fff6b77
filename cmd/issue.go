package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

const (
	keyFlag              = "key"
	subjectFlag          = "subject"
	attributeFlag        = "attribute"
	subjectAttributeFlag = "subject-attribute"
	expiresInFlag        = "expires-in"
	storeFlag            = "store"
)

// NewIssueCommand returns the command to issue a signed capability.
func NewIssueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed capability delegating an attribute to a subject",
		Long: `Issue a capability granting an attribute in the issuer's namespace to a
subject principal, signed with the issuer's private key. The capability is
printed in its interchange form; with --store it is also written into the
subject's zone as a private delegate record, where collect resolutions find it.`,
		RunE: runIssue,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			flags := cmd.Flags()

			util.MustBindPFlag(keyFlag, flags.Lookup(keyFlag))
			util.MustBindPFlag(subjectFlag, flags.Lookup(subjectFlag))
			util.MustBindPFlag(attributeFlag, flags.Lookup(attributeFlag))
			util.MustBindPFlag(subjectAttributeFlag, flags.Lookup(subjectAttributeFlag))
			util.MustBindPFlag(expiresInFlag, flags.Lookup(expiresInFlag))
			util.MustBindPFlag(storeFlag, flags.Lookup(storeFlag))
			bindDatastoreFlags(cmd)
		},
	}

	flags := cmd.Flags()

	flags.String(keyFlag, "", "(required) the issuer's private key")
	flags.String(subjectFlag, "", "(required) the subject's public key")
	flags.String(attributeFlag, "", "(required) the attribute being delegated, in the issuer's namespace")
	flags.String(subjectAttributeFlag, "", "delegate to this attribute in the subject's namespace instead of to the subject principal itself")
	flags.Duration(expiresInFlag, 24*time.Hour, "how long the capability stays valid")
	flags.Bool(storeFlag, false, "store the capability in the subject's zone as a private delegate record")
	registerDatastoreFlags(cmd)

	// NOTE: if you add a new flag here, add the binding in PreRun

	return cmd
}

func runIssue(cmd *cobra.Command, _ []string) error {
	issuerKey, err := crypto.ParsePrivateKey(viper.GetString(keyFlag))
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

	var subjectAttr attribute.Attribute
	if s := viper.GetString(subjectAttributeFlag); s != "" {
		subjectAttr, err = attribute.Parse(s)
		if err != nil {
			return fmt.Errorf("parse subject attribute: %w", err)
		}
	}

	expiration := time.Now().Add(viper.GetDuration(expiresInFlag)).UTC()
	c, err := delegation.Issue(issuerKey, subject, issuerAttr, subjectAttr, expiration)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), c.String())

	if !viper.GetBool(storeFlag) {
		return nil
	}

	ds, err := openDatastore()
	if err != nil {
		return err
	}
	defer ds.Close()

	return storeCapability(cmd.Context(), ds, c)
}

// storeCapability appends the capability to the subject's zone apex as a
// private delegate record, where collect resolutions find it.
func storeCapability(ctx context.Context, ds storage.ZoneDatastore, c *delegation.Capability) error {
	return appendZoneRecords(ctx, ds, c.Subject, "", storage.Record{
		Type:    storage.RecordTypeDelegate,
		Data:    wire.CapabilityToBytes(c),
		Expiry:  c.Expiration,
		Private: true,
	})
}
