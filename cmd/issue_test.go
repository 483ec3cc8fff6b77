package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/cmd/util"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/storage"
	"github.com/credmesh/credmesh/pkg/wire"
)

func TestIssueCommandPrintsCapability(t *testing.T) {
	issuerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	subjectKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	issueCmd := NewIssueCommand()
	issueCmd.SetOut(&buf)
	issueCmd.SetArgs([]string{
		"--key", issuerKey.String(),
		"--subject", subjectKey.Public().String(),
		"--attribute", "friends",
		"--subject-attribute", "team.members",
		"--expires-in", "1h",
	})
	require.NoError(t, issueCmd.Execute())

	c, err := delegation.ParseCapability(strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	require.True(t, c.VerifySelf())
	require.Equal(t, issuerKey.Public(), c.Issuer)
	require.Equal(t, subjectKey.Public(), c.Subject)
	require.Equal(t, attribute.MustParse("friends"), c.IssuerAttribute)
	require.Equal(t, attribute.MustParse("team.members"), c.SubjectAttribute)
	require.False(t, c.Expired(time.Now()))
	require.True(t, c.Expired(time.Now().Add(2*time.Hour)))
}

func TestIssueCommandStoresPrivateDelegate(t *testing.T) {
	_, ds, uri := util.MustBootstrapDatastore(t, "sqlite")

	issuerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	subjectKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	issueCmd := NewIssueCommand()
	issueCmd.SetOut(&buf)
	issueCmd.SetArgs([]string{
		"--key", issuerKey.String(),
		"--subject", subjectKey.Public().String(),
		"--attribute", "friends",
		"--store",
		"--datastore-engine", "sqlite",
		"--datastore-uri", uri,
	})
	require.NoError(t, issueCmd.Execute())

	records, err := ds.GetRecords(context.Background(), subjectKey.Public(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, storage.RecordTypeDelegate, records[0].Type)
	require.True(t, records[0].Private)

	c, err := wire.CapabilityFromBytes(records[0].Data)
	require.NoError(t, err)
	require.Equal(t, strings.TrimSpace(buf.String()), c.String())
	require.Equal(t, c.Expiration, records[0].Expiry)
}

func TestIssueCommandAppendsToExistingApex(t *testing.T) {
	_, ds, uri := util.MustBootstrapDatastore(t, "sqlite")

	issuerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	subjectKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	issue := func(attr string) {
		issueCmd := NewIssueCommand()
		issueCmd.SetOut(new(bytes.Buffer))
		issueCmd.SetArgs([]string{
			"--key", issuerKey.String(),
			"--subject", subjectKey.Public().String(),
			"--attribute", attr,
			"--store",
			"--datastore-engine", "sqlite",
			"--datastore-uri", uri,
		})
		require.NoError(t, issueCmd.Execute())
	}

	issue("friends")
	issue("family")

	records, err := ds.GetRecords(context.Background(), subjectKey.Public(), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestIssueCommandRejectsBadKeys(t *testing.T) {
	subjectKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	issueCmd := NewIssueCommand()
	issueCmd.SilenceErrors = true
	issueCmd.SilenceUsage = true
	issueCmd.SetOut(new(bytes.Buffer))
	issueCmd.SetArgs([]string{
		"--key", "not-a-key",
		"--subject", subjectKey.Public().String(),
		"--attribute", "friends",
	})
	require.ErrorContains(t, issueCmd.Execute(), "parse issuer key")
}

func TestIssueCommandRequiresAttribute(t *testing.T) {
	issuerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	subjectKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	issueCmd := NewIssueCommand()
	issueCmd.SilenceErrors = true
	issueCmd.SilenceUsage = true
	issueCmd.SetOut(new(bytes.Buffer))
	issueCmd.SetArgs([]string{
		"--key", issuerKey.String(),
		"--subject", subjectKey.Public().String(),
	})
	require.Error(t, issueCmd.Execute())
}
