package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeGameName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain name is title-cased",
			input:    "king of the hill",
			expected: "King Of The Hill",
		},
		{
			name:     "surrounding straight quotes stripped",
			input:    `"grudge match"`,
			expected: "Grudge Match",
		},
		{
			name:     "surrounding single quotes stripped",
			input:    "'rematch'",
			expected: "Rematch",
		},
		{
			name:     "curly quotes stripped",
			input:    "“finals”",
			expected: "Finals",
		},
		{
			name:     "long name truncated",
			input:    strings.Repeat("a", 50),
			expected: "A" + strings.Repeat("a", MaxGameNameLen-1),
		},
		{
			name:     "empty stays empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeGameName(tt.input))
		})
	}
}

func TestNormalizeGameNameLength(t *testing.T) {
	got := NormalizeGameName(strings.Repeat("x", 100))
	assert.LessOrEqual(t, len([]rune(got)), MaxGameNameLen)
}

func TestValidLosingScore(t *testing.T) {
	assert.True(t, ValidLosingScore(0))
	assert.True(t, ValidLosingScore(1))
	assert.True(t, ValidLosingScore(2))
	assert.False(t, ValidLosingScore(-1))
	assert.False(t, ValidLosingScore(3))
}
