package wire

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
)

func mustGenerateKey(t *testing.T) crypto.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return key
}

func issueTestCapability(t *testing.T, issuerAttr, subjectAttr attribute.Attribute) *delegation.Capability {
	t.Helper()

	issuerKey := mustGenerateKey(t)
	subjectKey := mustGenerateKey(t)

	c, err := delegation.Issue(issuerKey, subjectKey.Public(), issuerAttr, subjectAttr,
		time.Now().Add(time.Hour).Truncate(time.Microsecond).UTC())
	require.NoError(t, err)

	return c
}

func TestDelegationSetRoundtrip(t *testing.T) {
	keyA := mustGenerateKey(t).Public()
	keyB := mustGenerateKey(t).Public()

	entries := []delegation.SetEntry{
		{Subject: keyA, SubjectAttribute: attribute.MustParse("users.paid")},
		{Subject: keyB},
	}

	size := DelegationSetSize(entries)
	require.Equal(t, (4+32+len("users.paid")+1)+(4+32), size)

	buf := make([]byte, size)
	written, err := SerializeDelegationSet(entries, buf)
	require.NoError(t, err)
	require.Equal(t, size, written)

	decoded, err := DeserializeDelegationSet(buf, len(entries))
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}

func TestSerializeDelegationSetBufferTooSmall(t *testing.T) {
	entries := []delegation.SetEntry{
		{Subject: mustGenerateKey(t).Public(), SubjectAttribute: attribute.MustParse("a")},
	}

	buf := make([]byte, DelegationSetSize(entries)-1)
	_, err := SerializeDelegationSet(entries, buf)
	require.ErrorIs(t, err, ErrBufferTooSmall)
}

func TestDeserializeDelegationSetRejectsMalformedInput(t *testing.T) {
	entries := []delegation.SetEntry{
		{Subject: mustGenerateKey(t).Public(), SubjectAttribute: attribute.MustParse("a.b")},
	}
	buf := make([]byte, DelegationSetSize(entries))
	_, err := SerializeDelegationSet(entries, buf)
	require.NoError(t, err)

	tests := []struct {
		name  string
		data  []byte
		count int
	}{
		{
			name:  "truncated_entry",
			data:  buf[:20],
			count: 1,
		},
		{
			name:  "truncated_attribute",
			data:  buf[:len(buf)-2],
			count: 1,
		},
		{
			name:  "count_exceeds_data",
			data:  buf,
			count: 5,
		},
		{
			name:  "negative_count",
			data:  buf,
			count: -1,
		},
		{
			name:  "trailing_bytes",
			data:  append(append([]byte{}, buf...), 0xFF),
			count: 1,
		},
		{
			name: "attribute_not_nul_terminated",
			data: func() []byte {
				b := append([]byte{}, buf...)
				b[len(b)-1] = 'x'
				return b
			}(),
			count: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DeserializeDelegationSet(test.data, test.count)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCapabilityRoundtrip(t *testing.T) {
	tests := []struct {
		name        string
		issuerAttr  attribute.Attribute
		subjectAttr attribute.Attribute
	}{
		{
			name:       "without_subject_attribute",
			issuerAttr: attribute.MustParse("disc"),
		},
		{
			name:        "with_subject_attribute",
			issuerAttr:  attribute.MustParse("disc.members"),
			subjectAttr: attribute.MustParse("users"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := issueTestCapability(t, test.issuerAttr, test.subjectAttr)

			raw := CapabilityToBytes(c)
			require.Len(t, raw, CapabilitySize(c))

			decoded, err := CapabilityFromBytes(raw)
			require.NoError(t, err)
			require.Equal(t, c, decoded)
		})
	}
}

func TestCapabilityFromBytesRejectsTampering(t *testing.T) {
	c := issueTestCapability(t, attribute.MustParse("disc"), "")
	raw := CapabilityToBytes(c)

	t.Run("flipped_payload_bit", func(t *testing.T) {
		tampered := append([]byte{}, raw...)
		tampered[80] ^= 0x01 // inside the issuer key
		_, err := CapabilityFromBytes(tampered)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("flipped_signature_bit", func(t *testing.T) {
		tampered := append([]byte{}, raw...)
		tampered[0] ^= 0x01
		_, err := CapabilityFromBytes(tampered)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong_purpose", func(t *testing.T) {
		tampered := append([]byte{}, raw...)
		binary.BigEndian.PutUint32(tampered[68:72], 99)
		_, err := CapabilityFromBytes(tampered)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("wrong_purpose_size", func(t *testing.T) {
		tampered := append([]byte{}, raw...)
		binary.BigEndian.PutUint32(tampered[64:68], 7)
		_, err := CapabilityFromBytes(tampered)
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := CapabilityFromBytes(raw[:100])
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("trailing_bytes", func(t *testing.T) {
		_, err := CapabilityFromBytes(append(append([]byte{}, raw...), 0x00))
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestCapabilitiesSequenceRoundtrip(t *testing.T) {
	caps := []*delegation.Capability{
		issueTestCapability(t, attribute.MustParse("a"), ""),
		issueTestCapability(t, attribute.MustParse("b.c"), attribute.MustParse("d")),
	}

	buf := make([]byte, CapabilitiesSize(caps))
	written, err := SerializeCapabilities(caps, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), written)

	decoded, err := DeserializeCapabilities(buf, len(caps))
	require.NoError(t, err)
	require.Equal(t, caps, decoded)

	t.Run("buffer_too_small", func(t *testing.T) {
		_, err := SerializeCapabilities(caps, make([]byte, len(buf)-1))
		require.ErrorIs(t, err, ErrBufferTooSmall)
	})

	t.Run("wrong_count", func(t *testing.T) {
		_, err := DeserializeCapabilities(buf, 1)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestChainRoundtrip(t *testing.T) {
	issuer := mustGenerateKey(t).Public()
	middle := mustGenerateKey(t).Public()
	subject := mustGenerateKey(t).Public()

	chain := []*delegation.Delegation{
		{
			Issuer:           issuer,
			IssuerAttribute:  attribute.MustParse("a"),
			Subject:          middle,
			SubjectAttribute: attribute.MustParse("b"),
		},
		{
			Issuer:          middle,
			IssuerAttribute: attribute.MustParse("b"),
			Subject:         subject,
		},
	}
	caps := []*delegation.Capability{
		issueTestCapability(t, attribute.MustParse("b"), ""),
	}

	buf := make([]byte, ChainSize(chain, caps))
	written, err := SerializeChain(chain, caps, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), written)

	decodedChain, decodedCaps, err := DeserializeChain(buf, len(chain), len(caps))
	require.NoError(t, err)
	require.Equal(t, chain, decodedChain)
	require.Equal(t, caps, decodedCaps)

	t.Run("implausible_chain_count", func(t *testing.T) {
		_, _, err := DeserializeChain(buf, 1000, len(caps))
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestSetRecordRoundtrip(t *testing.T) {
	entries := []delegation.SetEntry{
		{Subject: mustGenerateKey(t).Public(), SubjectAttribute: attribute.MustParse("x")},
		{Subject: mustGenerateKey(t).Public()},
	}

	payload, err := MarshalSetRecord(entries)
	require.NoError(t, err)

	decoded, err := UnmarshalSetRecord(payload)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)

	t.Run("truncated_header", func(t *testing.T) {
		_, err := UnmarshalSetRecord(payload[:3])
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("count_mismatch", func(t *testing.T) {
		tampered := append([]byte{}, payload...)
		binary.BigEndian.PutUint32(tampered[0:4], 1)
		_, err := UnmarshalSetRecord(tampered)
		require.ErrorIs(t, err, ErrMalformed)
	})
}
