package edithandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"42.5", 42.5, true},
		{"-0.001", -0.001, true},
		{"1e10", 1e10, true},
		{"0", 0, true},
		{"not_a_number", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"-Inf", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseBoolean(t *testing.T) {
	b, ok := ParseBoolean("1")
	require.True(t, ok)
	assert.True(t, b)

	b, ok = ParseBoolean("0")
	require.True(t, ok)
	assert.False(t, b)

	for _, bad := range []string{"true", "false", "yes", "", "2"} {
		_, ok := ParseBoolean(bad)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestParseTime(t *testing.T) {
	for _, good := range []string{
		"2024-01-15T10:30:00Z",
		"2024-01-15T10:30:00.123Z",
		"2024-01-15T10:30:00+02:00",
		"2024-01-15T10:30:00",
		"2024-01-15",
	} {
		_, ok := ParseTime(good)
		assert.True(t, ok, "input %q", good)
	}

	for _, bad := range []string{"yesterday", "15/01/2024", "1700000000", ""} {
		_, ok := ParseTime(bad)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestParsePoint(t *testing.T) {
	p, ok := ParsePoint("1.5,-2.25")
	require.True(t, ok)
	assert.Equal(t, "1.5,-2.25", p)

	_, ok = ParsePoint("1.5, 2.25")
	assert.True(t, ok, "whitespace around coordinates is tolerated")

	for _, bad := range []string{"1.5", "1.5,2.5,3.5", "x,y", "", ","} {
		_, ok := ParsePoint(bad)
		assert.False(t, ok, "input %q", bad)
	}
}
