package delegation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
)

func mustGenerateKey(t *testing.T) crypto.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key
}

func TestIssueProducesSelfVerifyingCapability(t *testing.T) {
	issuerKey := mustGenerateKey(t)
	subjectKey := mustGenerateKey(t)

	c, err := Issue(
		issuerKey,
		subjectKey.Public(),
		attribute.MustParse("disc.members"),
		attribute.MustParse("users"),
		time.Now().Add(time.Hour),
	)
	require.NoError(t, err)

	require.True(t, c.VerifySelf())
	require.Equal(t, issuerKey.Public(), c.Issuer)
	require.Equal(t, subjectKey.Public(), c.Subject)
}

func TestIssueRequiresIssuerAttribute(t *testing.T) {
	issuerKey := mustGenerateKey(t)

	_, err := Issue(issuerKey, issuerKey.Public(), "", "", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrMissingIssuerAttribute)
}

func TestVerifySelfDetectsTampering(t *testing.T) {
	issuerKey := mustGenerateKey(t)

	c, err := Issue(issuerKey, issuerKey.Public(), attribute.MustParse("a"), "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Capability)
	}{
		{
			name: "issuer_attribute",
			mutate: func(c *Capability) {
				c.IssuerAttribute = "b"
			},
		},
		{
			name: "subject_attribute",
			mutate: func(c *Capability) {
				c.SubjectAttribute = "b"
			},
		},
		{
			name: "subject_key",
			mutate: func(c *Capability) {
				c.Subject[0] ^= 0x01
			},
		},
		{
			name: "expiration",
			mutate: func(c *Capability) {
				c.Expiration = c.Expiration.Add(time.Second)
			},
		},
		{
			name: "signature",
			mutate: func(c *Capability) {
				c.Signature[0] ^= 0x01
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mutated := *c
			test.mutate(&mutated)
			require.False(t, mutated.VerifySelf())
		})
	}
}

func TestExpired(t *testing.T) {
	issuerKey := mustGenerateKey(t)
	expiration := time.Now().Add(time.Minute)

	c, err := Issue(issuerKey, issuerKey.Public(), attribute.MustParse("a"), "", expiration)
	require.NoError(t, err)

	require.False(t, c.Expired(expiration.Add(-time.Second)))
	require.False(t, c.Expired(expiration))
	require.True(t, c.Expired(expiration.Add(time.Second)))
}

func TestCapabilityStringRoundtrip(t *testing.T) {
	issuerKey := mustGenerateKey(t)
	subjectKey := mustGenerateKey(t)
	expiration := time.Now().Add(time.Hour).Truncate(time.Microsecond).UTC()

	tests := []struct {
		name        string
		subjectAttr attribute.Attribute
	}{
		{
			name:        "one_attribute_form",
			subjectAttr: "",
		},
		{
			name:        "two_attribute_form",
			subjectAttr: attribute.MustParse("users.paid"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := Issue(issuerKey, subjectKey.Public(), attribute.MustParse("disc"), test.subjectAttr, expiration)
			require.NoError(t, err)

			parsed, err := ParseCapability(c.String())
			require.NoError(t, err)
			require.Equal(t, c, parsed)
			require.True(t, parsed.VerifySelf())
		})
	}
}

func TestParseCapabilityRejectsMalformedInput(t *testing.T) {
	issuerKey := mustGenerateKey(t)

	c, err := Issue(issuerKey, issuerKey.Public(), attribute.MustParse("a"), "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	valid := c.String()

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "empty",
			input: "",
		},
		{
			name:  "missing_signature_and_expiration",
			input: strings.SplitN(valid, " | ", 2)[0],
		},
		{
			name:  "missing_arrow",
			input: strings.Replace(valid, " -> ", " ", 1),
		},
		{
			name:  "missing_issuer_attribute",
			input: strings.Replace(valid, ".a ->", " ->", 1),
		},
		{
			name:  "bad_signature_encoding",
			input: replaceField(valid, 1, "!!!not-base64!!!"),
		},
		{
			name:  "short_signature",
			input: replaceField(valid, 1, "AAAA"),
		},
		{
			name:  "bad_expiration",
			input: replaceField(valid, 2, "soon"),
		},
		{
			name:  "truncated_issuer_key",
			input: valid[10:],
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseCapability(test.input)
			require.ErrorIs(t, err, ErrMalformedCapability)
		})
	}
}

func replaceField(s string, idx int, value string) string {
	fields := strings.Split(s, " | ")
	fields[idx] = value

	return strings.Join(fields, " | ")
}

func TestEdge(t *testing.T) {
	issuerKey := mustGenerateKey(t)
	subjectKey := mustGenerateKey(t)

	c, err := Issue(issuerKey, subjectKey.Public(), attribute.MustParse("a.b"), attribute.MustParse("c"), time.Now().Add(time.Hour))
	require.NoError(t, err)

	edge := c.Edge()
	require.Equal(t, c.Issuer, edge.Issuer)
	require.Equal(t, c.IssuerAttribute, edge.IssuerAttribute)
	require.Equal(t, c.Subject, edge.Subject)
	require.Equal(t, c.SubjectAttribute, edge.SubjectAttribute)
}

func TestDelegationString(t *testing.T) {
	issuerKey := mustGenerateKey(t)
	subjectKey := mustGenerateKey(t)

	d := &Delegation{
		Issuer:          issuerKey.Public(),
		IssuerAttribute: attribute.MustParse("a"),
		Subject:         subjectKey.Public(),
	}
	require.Equal(t, issuerKey.Public().String()+".a -> "+subjectKey.Public().String(), d.String())

	d.SubjectAttribute = attribute.MustParse("b")
	require.Equal(t, issuerKey.Public().String()+".a -> "+subjectKey.Public().String()+".b", d.String())
}
