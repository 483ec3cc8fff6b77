package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/credmesh/credmesh/internal/graph"
)

func TestCodecIsRegistered(t *testing.T) {
	c := encoding.GetCodec(Name)
	require.NotNil(t, c)
	require.Equal(t, Name, c.Name())
}

func TestCodecRoundTrip(t *testing.T) {
	in := &VerifyRequest{
		Direction:       graph.DirectionForward,
		Issuer:          newTestKey(t).Public(),
		Subject:         newTestKey(t).Public(),
		IssuerAttribute: "admin",
	}

	data, err := codec{}.Marshal(in)
	require.NoError(t, err)

	var out VerifyRequest
	require.NoError(t, codec{}.Unmarshal(data, &out))
	require.Equal(t, in.Issuer, out.Issuer)
	require.Equal(t, in.IssuerAttribute, out.IssuerAttribute)
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := codec{}.Marshal("not a message")
	require.Error(t, err)

	var s string
	require.Error(t, codec{}.Unmarshal([]byte{1}, &s))
}
