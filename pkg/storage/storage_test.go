package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		expiry  time.Time
		expired bool
	}{
		{
			name:    "zero_expiry_never_expires",
			expiry:  time.Time{},
			expired: false,
		},
		{
			name:    "future_expiry",
			expiry:  now.Add(time.Hour),
			expired: false,
		},
		{
			name:    "exact_expiry_still_valid",
			expiry:  now,
			expired: false,
		},
		{
			name:    "past_expiry",
			expiry:  now.Add(-time.Second),
			expired: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			record := Record{Expiry: test.expiry}
			require.Equal(t, test.expired, record.Expired(now))
		})
	}
}

func TestNewPaginationOptions(t *testing.T) {
	opts := NewPaginationOptions(0, "")
	require.Equal(t, DefaultPageSize, opts.PageSize)
	require.Empty(t, opts.From)

	opts = NewPaginationOptions(25, "disc")
	require.Equal(t, 25, opts.PageSize)
	require.Equal(t, "disc", opts.From)
}

func TestRecordTypeString(t *testing.T) {
	require.Equal(t, "DELEGATE", RecordTypeDelegate.String())
	require.Equal(t, "ATTRIBUTE", RecordTypeAttribute.String())
	require.Equal(t, "UNKNOWN", RecordType(42).String())
}
