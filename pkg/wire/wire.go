// Package wire implements the canonical binary encoding of delegation sets,
// capabilities, and delegation chains.
//
// All integers are big-endian. Attributes are stored NUL-terminated with an
// explicit length that includes the terminator; a length of zero encodes an
// absent attribute. Every read is bounds-checked so that malformed or
// truncated input from untrusted zones is rejected rather than mis-parsed.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/delegation"
)

var (
	ErrBufferTooSmall   = errors.New("destination buffer too small")
	ErrMalformed        = errors.New("malformed wire data")
	ErrInvalidSignature = errors.New("capability signature verification failed")
)

const (
	setEntryFixedSize = 4 + crypto.PublicKeySize

	// signature + purpose header + issuer key + subject key + expiration +
	// two attribute length fields.
	capabilityFixedSize = crypto.SignatureSize + 8 + crypto.PublicKeySize*2 + 8 + 4 + 4

	chainEntryFixedSize = crypto.PublicKeySize*2 + 4 + 4
)

func attrWireLen(a attribute.Attribute) int {
	if a.IsEmpty() {
		return 0
	}

	return len(a.String()) + 1
}

func appendAttr(dst []byte, a attribute.Attribute) []byte {
	if a.IsEmpty() {
		return dst
	}

	dst = append(dst, a.String()...)

	return append(dst, 0)
}

// readAttr decodes a NUL-terminated attribute of the given wire length from
// the front of data.
func readAttr(data []byte, wireLen uint32) (attribute.Attribute, error) {
	if wireLen == 0 {
		return "", nil
	}
	if wireLen < 2 || wireLen > attribute.MaxLength+1 {
		return "", fmt.Errorf("%w: attribute length %d out of range", ErrMalformed, wireLen)
	}
	if uint32(len(data)) < wireLen {
		return "", fmt.Errorf("%w: truncated attribute", ErrMalformed)
	}
	if data[wireLen-1] != 0 {
		return "", fmt.Errorf("%w: attribute is not NUL-terminated", ErrMalformed)
	}

	a, err := attribute.Parse(string(data[:wireLen-1]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return a, nil
}

// DelegationSetSize returns the serialized size of a delegation set.
func DelegationSetSize(entries []delegation.SetEntry) int {
	size := 0
	for i := range entries {
		size += setEntryFixedSize + attrWireLen(entries[i].SubjectAttribute)
	}

	return size
}

// SerializeDelegationSet writes entries into dst and returns the number of
// bytes written. Layout per entry:
//
//	subject_attribute_len:u32 | subject_key | subject_attribute\0
func SerializeDelegationSet(entries []delegation.SetEntry, dst []byte) (int, error) {
	need := DelegationSetSize(entries)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, need, len(dst))
	}

	buf := dst[:0]
	for i := range entries {
		buf = binary.BigEndian.AppendUint32(buf, uint32(attrWireLen(entries[i].SubjectAttribute)))
		buf = append(buf, entries[i].Subject[:]...)
		buf = appendAttr(buf, entries[i].SubjectAttribute)
	}

	return need, nil
}

// DeserializeDelegationSet reads exactly count entries from data. Trailing
// bytes are rejected.
func DeserializeDelegationSet(data []byte, count int) ([]delegation.SetEntry, error) {
	if count < 0 || count > len(data)/setEntryFixedSize {
		return nil, fmt.Errorf("%w: implausible entry count %d", ErrMalformed, count)
	}

	entries := make([]delegation.SetEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < setEntryFixedSize {
			return nil, fmt.Errorf("%w: truncated delegation set entry", ErrMalformed)
		}

		attrLen := binary.BigEndian.Uint32(data[0:4])

		var entry delegation.SetEntry
		copy(entry.Subject[:], data[4:4+crypto.PublicKeySize])
		data = data[setEntryFixedSize:]

		subjectAttr, err := readAttr(data, attrLen)
		if err != nil {
			return nil, err
		}
		entry.SubjectAttribute = subjectAttr
		data = data[attrLen:]

		entries = append(entries, entry)
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after delegation set", ErrMalformed, len(data))
	}

	return entries, nil
}

// CapabilitySize returns the serialized size of a single capability.
func CapabilitySize(c *delegation.Capability) int {
	return capabilityFixedSize + attrWireLen(c.IssuerAttribute) + attrWireLen(c.SubjectAttribute)
}

// CapabilitiesSize returns the serialized size of a capability sequence.
func CapabilitiesSize(caps []*delegation.Capability) int {
	size := 0
	for _, c := range caps {
		size += CapabilitySize(c)
	}

	return size
}

func appendCapability(dst []byte, c *delegation.Capability) []byte {
	dst = append(dst, c.Signature[:]...)

	return append(dst, crypto.SignaturePayload(crypto.SignPurposeDelegate, c.SignedBody())...)
}

// CapabilityToBytes serializes a single capability:
//
//	signature | purpose_header | issuer_key | subject_key | expiration:u64 |
//	issuer_attribute_len:u32 | subject_attribute_len:u32 | attributes
func CapabilityToBytes(c *delegation.Capability) []byte {
	return appendCapability(make([]byte, 0, CapabilitySize(c)), c)
}

// SerializeCapabilities writes caps into dst and returns the number of bytes
// written.
func SerializeCapabilities(caps []*delegation.Capability, dst []byte) (int, error) {
	need := CapabilitiesSize(caps)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, need, len(dst))
	}

	buf := dst[:0]
	for _, c := range caps {
		buf = appendCapability(buf, c)
	}

	return need, nil
}

// readCapability decodes one capability from the front of data and returns it
// together with the remaining bytes. The embedded signature is verified
// against the received payload before the capability is accepted.
func readCapability(data []byte) (*delegation.Capability, []byte, error) {
	if len(data) < capabilityFixedSize {
		return nil, nil, fmt.Errorf("%w: truncated capability", ErrMalformed)
	}

	var sig crypto.Signature
	copy(sig[:], data[:crypto.SignatureSize])

	purposeSize := binary.BigEndian.Uint32(data[64:68])
	purpose := crypto.SignPurpose(binary.BigEndian.Uint32(data[68:72]))
	if purpose != crypto.SignPurposeDelegate {
		return nil, nil, fmt.Errorf("%w: unexpected signature purpose %d", ErrMalformed, purpose)
	}

	var issuer, subject crypto.PublicKey
	copy(issuer[:], data[72:104])
	copy(subject[:], data[104:136])
	expirationMicros := binary.BigEndian.Uint64(data[136:144])
	issuerAttrLen := binary.BigEndian.Uint32(data[144:148])
	subjectAttrLen := binary.BigEndian.Uint32(data[148:152])

	bodyLen := capabilityFixedSize - crypto.SignatureSize - 8 + int(issuerAttrLen) + int(subjectAttrLen)
	if purposeSize != uint32(8+bodyLen) {
		return nil, nil, fmt.Errorf("%w: purpose header size %d does not match payload", ErrMalformed, purposeSize)
	}
	if len(data) < capabilityFixedSize+int(issuerAttrLen)+int(subjectAttrLen) {
		return nil, nil, fmt.Errorf("%w: truncated capability attributes", ErrMalformed)
	}

	issuerAttr, err := readAttr(data[capabilityFixedSize:], issuerAttrLen)
	if err != nil {
		return nil, nil, err
	}
	if issuerAttr.IsEmpty() {
		return nil, nil, fmt.Errorf("%w: capability without issuer attribute", ErrMalformed)
	}
	subjectAttr, err := readAttr(data[capabilityFixedSize+int(issuerAttrLen):], subjectAttrLen)
	if err != nil {
		return nil, nil, err
	}

	end := capabilityFixedSize + int(issuerAttrLen) + int(subjectAttrLen)
	if !crypto.Verify(issuer, purpose, data[72:end], sig) {
		return nil, nil, ErrInvalidSignature
	}

	c := &delegation.Capability{
		Issuer:           issuer,
		Subject:          subject,
		IssuerAttribute:  issuerAttr,
		SubjectAttribute: subjectAttr,
		Expiration:       time.UnixMicro(int64(expirationMicros)).UTC(),
		Signature:        sig,
	}

	return c, data[end:], nil
}

// CapabilityFromBytes decodes and self-verifies a single capability. Trailing
// bytes are rejected.
func CapabilityFromBytes(data []byte) (*delegation.Capability, error) {
	c, rest, err := readCapability(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after capability", ErrMalformed, len(rest))
	}

	return c, nil
}

// DeserializeCapabilities reads exactly count capabilities from data.
func DeserializeCapabilities(data []byte, count int) ([]*delegation.Capability, error) {
	if count < 0 || count > len(data)/capabilityFixedSize {
		return nil, fmt.Errorf("%w: implausible capability count %d", ErrMalformed, count)
	}

	caps := make([]*delegation.Capability, 0, count)
	for i := 0; i < count; i++ {
		c, rest, err := readCapability(data)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
		data = rest
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after capabilities", ErrMalformed, len(data))
	}

	return caps, nil
}

// ChainSize returns the serialized size of a proof chain.
func ChainSize(chain []*delegation.Delegation, caps []*delegation.Capability) int {
	size := CapabilitiesSize(caps)
	for _, d := range chain {
		size += chainEntryFixedSize + attrWireLen(d.IssuerAttribute) + attrWireLen(d.SubjectAttribute)
	}

	return size
}

// SerializeChain writes the delegation chain followed by its supporting
// capabilities into dst. Layout per chain entry:
//
//	issuer_key | subject_key | issuer_attribute_len:u32 |
//	subject_attribute_len:u32 | attributes
func SerializeChain(chain []*delegation.Delegation, caps []*delegation.Capability, dst []byte) (int, error) {
	need := ChainSize(chain, caps)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, need, len(dst))
	}

	buf := dst[:0]
	for _, d := range chain {
		buf = append(buf, d.Issuer[:]...)
		buf = append(buf, d.Subject[:]...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(attrWireLen(d.IssuerAttribute)))
		buf = binary.BigEndian.AppendUint32(buf, uint32(attrWireLen(d.SubjectAttribute)))
		buf = appendAttr(buf, d.IssuerAttribute)
		buf = appendAttr(buf, d.SubjectAttribute)
	}
	for _, c := range caps {
		buf = appendCapability(buf, c)
	}

	return need, nil
}

// DeserializeChain reads a proof chain of exactly chainCount delegations and
// capabilityCount capabilities from data.
func DeserializeChain(data []byte, chainCount, capabilityCount int) ([]*delegation.Delegation, []*delegation.Capability, error) {
	if chainCount < 0 || chainCount > len(data)/chainEntryFixedSize {
		return nil, nil, fmt.Errorf("%w: implausible chain length %d", ErrMalformed, chainCount)
	}

	chain := make([]*delegation.Delegation, 0, chainCount)
	for i := 0; i < chainCount; i++ {
		if len(data) < chainEntryFixedSize {
			return nil, nil, fmt.Errorf("%w: truncated chain entry", ErrMalformed)
		}

		d := &delegation.Delegation{}
		copy(d.Issuer[:], data[0:32])
		copy(d.Subject[:], data[32:64])
		issuerAttrLen := binary.BigEndian.Uint32(data[64:68])
		subjectAttrLen := binary.BigEndian.Uint32(data[68:72])
		data = data[chainEntryFixedSize:]

		issuerAttr, err := readAttr(data, issuerAttrLen)
		if err != nil {
			return nil, nil, err
		}
		d.IssuerAttribute = issuerAttr
		data = data[issuerAttrLen:]

		subjectAttr, err := readAttr(data, subjectAttrLen)
		if err != nil {
			return nil, nil, err
		}
		d.SubjectAttribute = subjectAttr
		data = data[subjectAttrLen:]

		chain = append(chain, d)
	}

	caps, err := DeserializeCapabilities(data, capabilityCount)
	if err != nil {
		return nil, nil, err
	}

	return chain, caps, nil
}

// MarshalSetRecord encodes a delegation set as an attribute record payload,
// a u32 entry count followed by the serialized set.
func MarshalSetRecord(entries []delegation.SetEntry) ([]byte, error) {
	out := make([]byte, 4+DelegationSetSize(entries))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(entries)))
	if _, err := SerializeDelegationSet(entries, out[4:]); err != nil {
		return nil, err
	}

	return out, nil
}

// UnmarshalSetRecord decodes an attribute record payload.
func UnmarshalSetRecord(data []byte) ([]delegation.SetEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated set record", ErrMalformed)
	}

	count := binary.BigEndian.Uint32(data[0:4])

	return DeserializeDelegationSet(data[4:], int(count))
}
