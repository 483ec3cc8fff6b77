// Package delegation defines the building blocks of the authorization model:
// delegation edges, delegation set entries stored in zone records, and signed
// capabilities presented as proof.
package delegation

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/credmesh/credmesh/pkg/attribute"
	"github.com/credmesh/credmesh/pkg/crypto"
)

var (
	ErrMissingIssuerAttribute = errors.New("issuer attribute is required")
	ErrMalformedCapability    = errors.New("malformed capability string")
)

// Delegation is a single edge of a delegation chain: issuer delegates its
// issuer attribute to subject, optionally scoped to an attribute in the
// subject's namespace. An empty SubjectAttribute delegates to the subject
// principal itself.
type Delegation struct {
	Issuer           crypto.PublicKey
	IssuerAttribute  attribute.Attribute
	Subject          crypto.PublicKey
	SubjectAttribute attribute.Attribute
}

func (d *Delegation) String() string {
	if d.SubjectAttribute.IsEmpty() {
		return fmt.Sprintf("%s.%s -> %s", d.Issuer, d.IssuerAttribute, d.Subject)
	}

	return fmt.Sprintf("%s.%s -> %s.%s", d.Issuer, d.IssuerAttribute, d.Subject, d.SubjectAttribute)
}

// SetEntry is one conjunct of a delegation set record. The issuing principal
// and attribute are implied by the zone and label the record is stored under.
type SetEntry struct {
	Subject          crypto.PublicKey
	SubjectAttribute attribute.Attribute
}

// Capability is a self-contained, signed delegation presented by a subject.
type Capability struct {
	Issuer           crypto.PublicKey
	Subject          crypto.PublicKey
	IssuerAttribute  attribute.Attribute
	SubjectAttribute attribute.Attribute
	Expiration       time.Time
	Signature        crypto.Signature
}

// Issue creates a capability granting issuerAttr in the issuer's namespace to
// subject, signed by issuerKey. subjectAttr may be empty to grant to the
// subject principal directly.
func Issue(issuerKey crypto.PrivateKey, subject crypto.PublicKey, issuerAttr, subjectAttr attribute.Attribute, expiration time.Time) (*Capability, error) {
	if issuerAttr.IsEmpty() {
		return nil, ErrMissingIssuerAttribute
	}

	c := &Capability{
		Issuer:           issuerKey.Public(),
		Subject:          subject,
		IssuerAttribute:  issuerAttr,
		SubjectAttribute: subjectAttr,
		Expiration:       expiration,
	}
	c.Signature = crypto.Sign(issuerKey, crypto.SignPurposeDelegate, c.SignedBody())

	return c, nil
}

// SignedBody returns the canonical byte layout the capability signature
// covers, minus the purpose header that crypto.Sign adds:
//
//	issuer_key | subject_key | expiration:u64 | issuer_attr_len:u32 |
//	subject_attr_len:u32 | issuer_attr\0 | subject_attr\0
//
// Integers are big-endian. Attribute lengths include the NUL terminator; a
// length of zero means the attribute is absent.
func (c *Capability) SignedBody() []byte {
	issuerAttr := terminatedAttr(c.IssuerAttribute)
	subjectAttr := terminatedAttr(c.SubjectAttribute)

	out := make([]byte, 0, crypto.PublicKeySize*2+16+len(issuerAttr)+len(subjectAttr))
	out = append(out, c.Issuer[:]...)
	out = append(out, c.Subject[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(c.Expiration.UnixMicro()))
	out = binary.BigEndian.AppendUint32(out, uint32(len(issuerAttr)))
	out = binary.BigEndian.AppendUint32(out, uint32(len(subjectAttr)))
	out = append(out, issuerAttr...)
	out = append(out, subjectAttr...)

	return out
}

func terminatedAttr(a attribute.Attribute) []byte {
	if a.IsEmpty() {
		return nil
	}

	return append([]byte(a.String()), 0)
}

// VerifySelf checks the capability signature against its own issuer key.
func (c *Capability) VerifySelf() bool {
	return crypto.Verify(c.Issuer, crypto.SignPurposeDelegate, c.SignedBody(), c.Signature)
}

// Expired reports whether the capability expired strictly before now.
func (c *Capability) Expired(now time.Time) bool {
	return now.After(c.Expiration)
}

// Edge returns the delegation edge this capability attests.
func (c *Capability) Edge() *Delegation {
	return &Delegation{
		Issuer:           c.Issuer,
		IssuerAttribute:  c.IssuerAttribute,
		Subject:          c.Subject,
		SubjectAttribute: c.SubjectAttribute,
	}
}

// String renders the capability in its interchange form:
//
//	issuerKey.issuerAttr -> subjectKey[.subjectAttr] | base64Sig | expirationMicros
func (c *Capability) String() string {
	subject := c.Subject.String()
	if !c.SubjectAttribute.IsEmpty() {
		subject += "." + c.SubjectAttribute.String()
	}

	return fmt.Sprintf("%s.%s -> %s | %s | %d",
		c.Issuer, c.IssuerAttribute, subject,
		base64.StdEncoding.EncodeToString(c.Signature[:]),
		c.Expiration.UnixMicro(),
	)
}

// ParseCapability parses the interchange form produced by String. Inputs that
// do not match exactly the one-attribute or two-attribute form are rejected.
func ParseCapability(s string) (*Capability, error) {
	fields := strings.Split(s, " | ")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformedCapability, len(fields))
	}

	ends := strings.Split(fields[0], " -> ")
	if len(ends) != 2 {
		return nil, fmt.Errorf("%w: missing delegation arrow", ErrMalformedCapability)
	}

	issuer, issuerAttr, err := parsePrincipal(ends[0])
	if err != nil {
		return nil, err
	}
	if issuerAttr.IsEmpty() {
		return nil, fmt.Errorf("%w: issuer attribute is required", ErrMalformedCapability)
	}

	subject, subjectAttr, err := parsePrincipal(ends[1])
	if err != nil {
		return nil, err
	}

	rawSig, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature encoding: %v", ErrMalformedCapability, err)
	}
	if len(rawSig) != crypto.SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d", ErrMalformedCapability, len(rawSig), crypto.SignatureSize)
	}

	micros, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiration: %v", ErrMalformedCapability, err)
	}

	c := &Capability{
		Issuer:           issuer,
		Subject:          subject,
		IssuerAttribute:  issuerAttr,
		SubjectAttribute: subjectAttr,
		Expiration:       time.UnixMicro(int64(micros)).UTC(),
	}
	copy(c.Signature[:], rawSig)

	return c, nil
}

// parsePrincipal splits "keyB32[.attr]". Keys have a fixed base32 width, so
// the first '.' always terminates the key.
func parsePrincipal(s string) (crypto.PublicKey, attribute.Attribute, error) {
	keyPart := s
	var attrPart string
	if i := strings.IndexByte(s, '.'); i >= 0 {
		keyPart, attrPart = s[:i], s[i+1:]
	}

	key, err := crypto.ParsePublicKey(keyPart)
	if err != nil {
		return crypto.PublicKey{}, "", fmt.Errorf("%w: %v", ErrMalformedCapability, err)
	}

	if attrPart == "" {
		return key, "", nil
	}

	attr, err := attribute.Parse(attrPart)
	if err != nil {
		return crypto.PublicKey{}, "", fmt.Errorf("%w: %v", ErrMalformedCapability, err)
	}

	return key, attr, nil
}
