package attribute

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Attribute
		err      error
	}{
		{
			name:     "single_component",
			input:    "disc",
			expected: "disc",
		},
		{
			name:     "multi_component",
			input:    "disc.members.paid",
			expected: "disc.members.paid",
		},
		{
			name:     "folds_case",
			input:    "Disc.Members",
			expected: "disc.members",
		},
		{
			name:  "empty",
			input: "",
			err:   ErrEmpty,
		},
		{
			name:  "leading_separator",
			input: ".disc",
			err:   ErrMalformed,
		},
		{
			name:  "trailing_separator",
			input: "disc.",
			err:   ErrMalformed,
		},
		{
			name:  "empty_component",
			input: "disc..members",
			err:   ErrMalformed,
		},
		{
			name:  "too_long",
			input: strings.Repeat("a", MaxLength+1),
			err:   ErrTooLong,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(test.input)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, got)
		})
	}
}

func TestParseMaxLengthBoundary(t *testing.T) {
	input := strings.Repeat("a", MaxLength)

	got, err := Parse(input)
	require.NoError(t, err)
	require.Len(t, got.String(), MaxLength)
}

func TestFirstRest(t *testing.T) {
	tests := []struct {
		name  string
		attr  Attribute
		first string
		rest  Attribute
	}{
		{
			name:  "multi_component",
			attr:  "a.b.c",
			first: "a",
			rest:  "b.c",
		},
		{
			name:  "single_component",
			attr:  "a",
			first: "a",
			rest:  "",
		},
		{
			name:  "empty",
			attr:  "",
			first: "",
			rest:  "",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.first, test.attr.First())
			require.Equal(t, test.rest, test.attr.Rest())
		})
	}
}

func TestConcat(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Attribute
		expected Attribute
	}{
		{
			name:     "both_present",
			a:        "a",
			b:        "b.c",
			expected: "a.b.c",
		},
		{
			name:     "left_empty",
			a:        "",
			b:        "b",
			expected: "b",
		},
		{
			name:     "right_empty",
			a:        "a",
			b:        "",
			expected: "a",
		},
		{
			name:     "both_empty",
			a:        "",
			b:        "",
			expected: "",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.expected, test.a.Concat(test.b))
		})
	}
}

func TestTrimComponentPrefix(t *testing.T) {
	tests := []struct {
		name      string
		attr      Attribute
		prefix    Attribute
		remainder Attribute
		ok        bool
	}{
		{
			name:      "proper_prefix",
			attr:      "a.b.c",
			prefix:    "a.b",
			remainder: "c",
			ok:        true,
		},
		{
			name:      "exact_match",
			attr:      "a.b",
			prefix:    "a.b",
			remainder: "",
			ok:        true,
		},
		{
			name:   "partial_component_is_not_a_prefix",
			attr:   "abc.d",
			prefix: "ab",
			ok:     false,
		},
		{
			name:   "prefix_longer_than_attribute",
			attr:   "a",
			prefix: "a.b",
			ok:     false,
		},
		{
			name:      "empty_prefix_matches_everything",
			attr:      "a.b",
			prefix:    "",
			remainder: "a.b",
			ok:        true,
		},
		{
			name:   "disjoint",
			attr:   "a.b",
			prefix: "x",
			ok:     false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rest, ok := test.attr.TrimComponentPrefix(test.prefix)
			require.Equal(t, test.ok, ok)
			if ok {
				require.Equal(t, test.remainder, rest)
			}
		})
	}
}

func TestComponents(t *testing.T) {
	require.Nil(t, Attribute("").Components())
	require.Equal(t, []string{"a"}, Attribute("a").Components())
	require.Equal(t, []string{"a", "b", "c"}, Attribute("a.b.c").Components())
}
