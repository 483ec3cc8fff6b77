// Package id generates lexically sortable unique identifiers for resolutions
// and stored record rows.
package id

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mutex   sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

type ID struct {
	value ulid.ULID
}

// NewFromTime returns a ULID whose timestamp component is taken from t.
func NewFromTime(t time.Time) (*ID, error) {
	mutex.Lock()
	defer mutex.Unlock()

	value, err := ulid.New(uint64(t.UnixMilli()), entropy)
	if err != nil {
		return nil, err
	}

	return &ID{value}, nil
}

func NewStringFromTime(t time.Time) (string, error) {
	value, err := NewFromTime(t)
	if err != nil {
		return "", err
	}

	return value.value.String(), nil
}

func NewString() (string, error) {
	return NewStringFromTime(time.Now())
}

func Parse(s string) (*ID, error) {
	value, err := ulid.ParseStrict(s)
	if err != nil {
		return nil, err
	}

	return &ID{value}, nil
}

func IsValid(s string) bool {
	_, err := Parse(s)

	return err == nil
}

func (id *ID) String() string {
	return id.value.String()
}

func (id *ID) Time() time.Time {
	return ulid.Time(id.value.Time())
}
