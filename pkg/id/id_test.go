package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("parses_generated_ids", func(t *testing.T) {
		generated, err := NewString()
		require.NoError(t, err)

		parsed, err := Parse(generated)
		require.NoError(t, err)
		require.Equal(t, generated, parsed.String())
	})

	t.Run("rejects_non_ulid_input", func(t *testing.T) {
		_, err := Parse("foobar")
		require.Error(t, err)
		require.False(t, IsValid("foobar"))
	})
}

func TestTimeComponent(t *testing.T) {
	now := time.Now()

	generated, err := NewFromTime(now)
	require.NoError(t, err)
	require.Equal(t, now.UnixMilli(), generated.Time().UnixMilli())
}

func TestNoCollisionsWithinSameMillisecond(t *testing.T) {
	now := time.Now()
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		generated, err := NewStringFromTime(now)
		require.NoError(t, err)
		seen[generated] = struct{}{}
	}

	require.Len(t, seen, n)
}
