package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"  hello   world \n", "hello world"},
		{"a\t\tb\r\nc", "a b c"},
		{"already clean", "already clean"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, CollapseWhitespace(tt.input))
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, "ab…", TruncateRunes("abcdef", 2))
	assert.Equal(t, "", TruncateRunes("abc", 0))

	// Multibyte runes are not split.
	long := strings.Repeat("邀", 300)
	got := TruncateRunes(long, 240)
	assert.Equal(t, 241, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
