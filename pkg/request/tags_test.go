package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"   ", nil},
		{"java", []string{"java"}},
		{"java;android", []string{"java", "android"}},
		{"Java Android", []string{"java", "android"}},
		{"java;;android;", []string{"java", "android"}},
		{"go go GO", []string{"go"}},
		{"c#;.NET", []string{"c#", ".net"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTags(tt.input))
		})
	}
}

func TestNormalizeTag(t *testing.T) {
	tests := map[string]string{
		"Google Maps":    "google-maps",
		"  spring-boot ": "spring-boot",
		"ＡＳＰ.ＮＥＴ":       "asp.net",
		"":               "",
	}

	for input, want := range tests {
		assert.Equal(t, want, NormalizeTag(input), "input %q", input)
	}
}
