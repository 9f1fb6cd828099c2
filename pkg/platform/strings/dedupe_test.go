package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims and drops blanks",
			input:    []string{" 0xaa ", "", "   ", "0xbb"},
			expected: []string{"0xaa", "0xbb"},
		},
		{
			name:     "keeps first occurrence order",
			input:    []string{"0xbb", "0xaa", "0xbb"},
			expected: []string{"0xbb", "0xaa"},
		},
		{
			name:     "case sensitive",
			input:    []string{"0xAA", "0xaa"},
			expected: []string{"0xAA", "0xaa"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	got := DedupeAndTrimLower([]string{" 0xABCDEF ", "0xabcdef", "0x1234", "0xAbCdEf"})
	assert.Equal(t, []string{"0xabcdef", "0x1234"}, got)
}
