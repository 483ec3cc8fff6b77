// Package crypto provides the ed25519 key and signature primitives that
// capabilities are built on.
//
// Signatures never cover raw payload bytes. The signed message is always
// prefixed with a purpose header (big-endian size and purpose tag) so that a
// signature produced for one record type can never be replayed as another.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// PublicKeySize is the byte length of an ed25519 public key.
	PublicKeySize = ed25519.PublicKeySize

	// PrivateKeySize is the byte length of a private key. Private keys are
	// stored and transmitted in seed form.
	PrivateKeySize = ed25519.SeedSize

	// SignatureSize is the byte length of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize

	purposeHeaderSize = 8
)

// SignPurpose tags what a signature is for.
type SignPurpose uint32

// SignPurposeDelegate is the registered purpose number for attribute
// delegation capabilities.
const SignPurposeDelegate SignPurpose = 27

var ErrInvalidKeyEncoding = errors.New("invalid key encoding")

// Principal identifiers are rendered in Crockford base32 without padding,
// 52 characters for a 32-byte key.
var keyEncoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

type (
	// PublicKey identifies a principal. It is a comparable value type so it
	// can be used directly as a map key.
	PublicKey [PublicKeySize]byte

	// PrivateKey is an ed25519 seed.
	PrivateKey [PrivateKeySize]byte

	// Signature is a detached ed25519 signature.
	Signature [SignatureSize]byte
)

// GenerateKey produces a fresh private key from crypto/rand.
func GenerateKey() (PrivateKey, error) {
	var key PrivateKey
	if _, err := rand.Read(key[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("generate key: %w", err)
	}

	return key, nil
}

// Public derives the public key for k.
func (k PrivateKey) Public() PublicKey {
	var pub PublicKey
	copy(pub[:], ed25519.NewKeyFromSeed(k[:]).Public().(ed25519.PublicKey))

	return pub
}

func (k PrivateKey) IsZero() bool {
	return k == PrivateKey{}
}

func (k PrivateKey) String() string {
	return keyEncoding.EncodeToString(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) String() string {
	return keyEncoding.EncodeToString(k[:])
}

// ParsePublicKey decodes a base32 public key. Lowercase input is accepted.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	if err := decodeKey(s, key[:]); err != nil {
		return PublicKey{}, err
	}

	return key, nil
}

// ParsePrivateKey decodes a base32 private key seed.
func ParsePrivateKey(s string) (PrivateKey, error) {
	var key PrivateKey
	if err := decodeKey(s, key[:]); err != nil {
		return PrivateKey{}, err
	}

	return key, nil
}

func decodeKey(s string, dst []byte) error {
	raw, err := keyEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyEncoding, len(raw), len(dst))
	}

	copy(dst, raw)

	return nil
}

// SignaturePayload frames body with the purpose header that signatures are
// computed over: size:u32 | purpose:u32 | body, all big-endian, where size
// covers the header itself.
func SignaturePayload(purpose SignPurpose, body []byte) []byte {
	out := make([]byte, purposeHeaderSize+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(purposeHeaderSize+len(body)))
	binary.BigEndian.PutUint32(out[4:8], uint32(purpose))
	copy(out[purposeHeaderSize:], body)

	return out
}

// Sign signs body under the given purpose.
func Sign(key PrivateKey, purpose SignPurpose, body []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(ed25519.NewKeyFromSeed(key[:]), SignaturePayload(purpose, body)))

	return sig
}

// Verify reports whether sig is a valid signature by key over body under the
// given purpose.
func Verify(key PublicKey, purpose SignPurpose, body []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(key[:]), SignaturePayload(purpose, body), sig[:])
}
