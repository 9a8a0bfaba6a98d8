package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeField(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"plain field", "provider", "primary", "primary"},
		{"empty value", "api_key", "", ""},
		{"api key", "api_key", "sk-1234567890abcdef", "sk-1***********cdef"},
		{"case insensitive", "X-API-Key", "abcdefghijkl", "abcd****ijkl"},
		{"authorization", "authorization", "Bearer abc", "Bear** abc"},
		{"credential", "credential", "short", "s***t"},
		{"already masked", "api_key_masked", "sk-1***", "sk-1***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeField(tt.key, tt.value))
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "**", MaskSecret("ab"))
	assert.Equal(t, "a*c", MaskSecret("abc"))
	assert.Equal(t, "a******h", MaskSecret("abcdefgh"))
	assert.Equal(t, "abcd**ghij", MaskSecret("abcdefghij"))
	assert.Equal(t, "sk-a****wxyz", MaskSecret("sk-abcduwxyz"))
}
