// Package attribute implements the dotted, hierarchical attribute names that
// delegations are expressed in, e.g. "disc.members.paid".
//
// Attributes are compared case-insensitively; Parse folds them to lower case
// so that all downstream comparisons are plain string equality. Components
// are separated by '.' and must be non-empty.
package attribute

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLength is the maximum byte length of an attribute, including separators.
const MaxLength = 255

var (
	ErrEmpty     = errors.New("attribute is empty")
	ErrTooLong   = fmt.Errorf("attribute exceeds %d bytes", MaxLength)
	ErrMalformed = errors.New("attribute has an empty component")
)

// Attribute is a normalized dotted attribute name. The zero value is the
// absent attribute, used for delegations that grant a whole namespace and for
// empty trailers during resolution.
type Attribute string

// Parse validates and normalizes s. It rejects empty attributes; use the zero
// Attribute to represent absence.
func Parse(s string) (Attribute, error) {
	if s == "" {
		return "", ErrEmpty
	}
	if len(s) > MaxLength {
		return "", ErrTooLong
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return "", fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	return Attribute(strings.ToLower(s)), nil
}

// MustParse is like Parse but panics on invalid input. Intended for tests and
// compile-time constants.
func MustParse(s string) Attribute {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return a
}

func (a Attribute) String() string {
	return string(a)
}

func (a Attribute) IsEmpty() bool {
	return a == ""
}

// First returns the leading component of a, e.g. "disc" for "disc.members".
// For a single-component attribute it returns the whole attribute.
func (a Attribute) First() string {
	if i := strings.IndexByte(string(a), '.'); i >= 0 {
		return string(a[:i])
	}

	return string(a)
}

// Rest returns a without its leading component, or the empty Attribute if a
// has a single component.
func (a Attribute) Rest() Attribute {
	if i := strings.IndexByte(string(a), '.'); i >= 0 {
		return a[i+1:]
	}

	return ""
}

// Components splits a into its individual components.
func (a Attribute) Components() []string {
	if a.IsEmpty() {
		return nil
	}

	return strings.Split(string(a), ".")
}

// Concat joins two attributes with a separator, treating empty operands as
// identity. Trailers built during resolution may exceed MaxLength; Concat
// does not re-validate.
func (a Attribute) Concat(b Attribute) Attribute {
	switch {
	case a.IsEmpty():
		return b
	case b.IsEmpty():
		return a
	default:
		return a + "." + b
	}
}

// TrimComponentPrefix reports whether prefix matches a's leading components
// exactly, and if so returns the remainder. The match is component-wise:
// "ab" is not a prefix of "abc", but "ab" is a prefix of "ab.c".
func (a Attribute) TrimComponentPrefix(prefix Attribute) (Attribute, bool) {
	switch {
	case prefix.IsEmpty():
		return a, true
	case a == prefix:
		return "", true
	case strings.HasPrefix(string(a), string(prefix)+"."):
		return a[len(prefix)+1:], true
	default:
		return "", false
	}
}
