package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "uptime ok", "uptime ok"},
		{"crlf", "line1\r\nline2\rline3", "line1\nline2\nline3"},
		{"tab runs", "cpu\t\t42%   idle", "cpu 42% idle"},
		{"line edge spaces", "  a  \n   b ", "a\nb"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"trimmed", "\n\n  result  \n\n", "result"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"  mixed \t whitespace \r\n\r\n\r\n and lines  ",
		"a\n\n\nb\t\tc",
	}

	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once))
	}
}

func TestRoundSeconds(t *testing.T) {
	assert.Equal(t, 1.23, roundSeconds(1234*time.Millisecond))
	assert.Equal(t, 0.0, roundSeconds(0))
	assert.Equal(t, 2.0, roundSeconds(2*time.Second))
}
