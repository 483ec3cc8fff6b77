package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/credmesh/credmesh/internal/graph"
	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
	"github.com/credmesh/credmesh/pkg/wire"
)

// ErrMalformedMessage is returned when a received frame cannot be decoded.
// It wraps into gRPC as an InvalidArgument through the codec boundary.
var ErrMalformedMessage = errors.New("rpc: malformed message")

const (
	updateKindProgress byte = 1
	updateKindResult   byte = 2
)

func appendAttribute(dst []byte, a attribute.Attribute) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(a.String())))

	return append(dst, a.String()...)
}

// readAttribute consumes a u16-length-prefixed attribute from the front of
// data and returns the remainder.
func readAttribute(data []byte) (attribute.Attribute, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("%w: truncated attribute", ErrMalformedMessage)
	}

	attrLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if attrLen > attribute.MaxLength {
		return "", nil, fmt.Errorf("%w: attribute length %d out of range", ErrMalformedMessage, attrLen)
	}
	if len(data) < attrLen {
		return "", nil, fmt.Errorf("%w: truncated attribute", ErrMalformedMessage)
	}
	if attrLen == 0 {
		return "", data, nil
	}

	a, err := attribute.Parse(string(data[:attrLen]))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return a, data[attrLen:], nil
}

func readDirection(b byte) (graph.Direction, error) {
	d := graph.Direction(b)
	if d == 0 || d&^graph.DirectionBidirectional != 0 {
		return 0, fmt.Errorf("%w: unknown search direction %d", ErrMalformedMessage, b)
	}

	return d, nil
}

// VerifyRequest asks the server whether Subject, presenting Capabilities, is
// transitively authorized to IssuerAttribute in the Issuer's namespace.
//
// Frame layout:
//
//	direction:u8 | issuer_key | subject_key | issuer_attribute_len:u16 |
//	issuer_attribute | capability_count:u32 | capabilities
type VerifyRequest struct {
	Direction       graph.Direction
	Issuer          crypto.PublicKey
	Subject         crypto.PublicKey
	IssuerAttribute attribute.Attribute
	Capabilities    []*delegation.Capability
}

func (r *VerifyRequest) MarshalBinary() ([]byte, error) {
	capsSize := wire.CapabilitiesSize(r.Capabilities)
	buf := make([]byte, 0, 1+2*crypto.PublicKeySize+2+len(r.IssuerAttribute.String())+4+capsSize)
	buf = append(buf, byte(r.Direction))
	buf = append(buf, r.Issuer[:]...)
	buf = append(buf, r.Subject[:]...)
	buf = appendAttribute(buf, r.IssuerAttribute)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Capabilities)))

	caps := make([]byte, capsSize)
	if _, err := wire.SerializeCapabilities(r.Capabilities, caps); err != nil {
		return nil, err
	}

	return append(buf, caps...), nil
}

func (r *VerifyRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 1+2*crypto.PublicKeySize {
		return fmt.Errorf("%w: truncated verify request", ErrMalformedMessage)
	}

	direction, err := readDirection(data[0])
	if err != nil {
		return err
	}
	r.Direction = direction
	copy(r.Issuer[:], data[1:1+crypto.PublicKeySize])
	copy(r.Subject[:], data[1+crypto.PublicKeySize:1+2*crypto.PublicKeySize])

	attr, rest, err := readAttribute(data[1+2*crypto.PublicKeySize:])
	if err != nil {
		return err
	}
	r.IssuerAttribute = attr

	if len(rest) < 4 {
		return fmt.Errorf("%w: truncated verify request", ErrMalformedMessage)
	}
	count := binary.BigEndian.Uint32(rest)
	caps, err := wire.DeserializeCapabilities(rest[4:], int(count))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	r.Capabilities = caps

	return nil
}

// CollectRequest asks the server to resolve IssuerAttribute for the zone
// owned by SubjectKey, using the zone's stored private delegate records as
// the presented capabilities.
//
// Frame layout:
//
//	direction:u8 | subject_private_key | issuer_key |
//	issuer_attribute_len:u16 | issuer_attribute
type CollectRequest struct {
	Direction       graph.Direction
	SubjectKey      crypto.PrivateKey
	Issuer          crypto.PublicKey
	IssuerAttribute attribute.Attribute
}

func (r *CollectRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 1+crypto.PrivateKeySize+crypto.PublicKeySize+2+len(r.IssuerAttribute.String()))
	buf = append(buf, byte(r.Direction))
	buf = append(buf, r.SubjectKey[:]...)
	buf = append(buf, r.Issuer[:]...)

	return appendAttribute(buf, r.IssuerAttribute), nil
}

func (r *CollectRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 1+crypto.PrivateKeySize+crypto.PublicKeySize {
		return fmt.Errorf("%w: truncated collect request", ErrMalformedMessage)
	}

	direction, err := readDirection(data[0])
	if err != nil {
		return err
	}
	r.Direction = direction
	copy(r.SubjectKey[:], data[1:1+crypto.PrivateKeySize])
	copy(r.Issuer[:], data[1+crypto.PrivateKeySize:1+crypto.PrivateKeySize+crypto.PublicKeySize])

	attr, rest, err := readAttribute(data[1+crypto.PrivateKeySize+crypto.PublicKeySize:])
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes after collect request", ErrMalformedMessage, len(rest))
	}
	r.IssuerAttribute = attr

	return nil
}

// ProgressUpdate reports one delegation edge discovered by one of the search
// engines before the final result is known.
type ProgressUpdate struct {
	Direction graph.Direction
	Edge      *delegation.Delegation
}

// ResultUpdate carries the final outcome of a resolution: the proof chain
// ordered from the issuer toward the subject and the presented capabilities
// the chain relies on, both empty when nothing was found.
type ResultUpdate struct {
	Found        bool
	Chain        []*delegation.Delegation
	Capabilities []*delegation.Capability

	// Lookups is the number of name resolution lookups the server issued.
	Lookups uint32
}

// ResolutionUpdate is one frame of a resolution stream. Exactly one of
// Progress and Result is set; a Verify stream carries zero or more progress
// frames followed by exactly one result frame, and Collect returns a single
// result frame.
//
// Frame layout:
//
//	kind:u8 (1=progress, 2=result) | body
//
// Progress body: direction:u8 | chain entry. Result body: found:u8 |
// lookups:u32 | chain_count:u32 | capability_count:u32 | chain | capabilities.
type ResolutionUpdate struct {
	Progress *ProgressUpdate
	Result   *ResultUpdate
}

func (u *ResolutionUpdate) MarshalBinary() ([]byte, error) {
	switch {
	case u.Progress != nil && u.Result == nil:
		edge := []*delegation.Delegation{u.Progress.Edge}
		buf := make([]byte, 2+wire.ChainSize(edge, nil))
		buf[0] = updateKindProgress
		buf[1] = byte(u.Progress.Direction)
		if _, err := wire.SerializeChain(edge, nil, buf[2:]); err != nil {
			return nil, err
		}

		return buf, nil

	case u.Result != nil && u.Progress == nil:
		res := u.Result
		buf := make([]byte, 0, 14+wire.ChainSize(res.Chain, res.Capabilities))
		buf = append(buf, updateKindResult)
		if res.Found {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.BigEndian.AppendUint32(buf, res.Lookups)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(res.Chain)))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(res.Capabilities)))

		blob := make([]byte, wire.ChainSize(res.Chain, res.Capabilities))
		if _, err := wire.SerializeChain(res.Chain, res.Capabilities, blob); err != nil {
			return nil, err
		}

		return append(buf, blob...), nil

	default:
		return nil, fmt.Errorf("%w: update must carry exactly one of progress and result", ErrMalformedMessage)
	}
}

func (u *ResolutionUpdate) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty resolution update", ErrMalformedMessage)
	}

	switch data[0] {
	case updateKindProgress:
		if len(data) < 2 {
			return fmt.Errorf("%w: truncated progress update", ErrMalformedMessage)
		}
		direction, err := readDirection(data[1])
		if err != nil {
			return err
		}
		chain, _, err := wire.DeserializeChain(data[2:], 1, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		u.Progress = &ProgressUpdate{Direction: direction, Edge: chain[0]}
		u.Result = nil

		return nil

	case updateKindResult:
		if len(data) < 14 {
			return fmt.Errorf("%w: truncated result update", ErrMalformedMessage)
		}
		res := &ResultUpdate{
			Found:   data[1] == 1,
			Lookups: binary.BigEndian.Uint32(data[2:6]),
		}
		chainCount := binary.BigEndian.Uint32(data[6:10])
		capCount := binary.BigEndian.Uint32(data[10:14])

		chain, caps, err := wire.DeserializeChain(data[14:], int(chainCount), int(capCount))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		res.Chain = chain
		res.Capabilities = caps
		u.Result = res
		u.Progress = nil

		return nil

	default:
		return fmt.Errorf("%w: unknown update kind %d", ErrMalformedMessage, data[0])
	}
}
