package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsReadableRatioV2(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"whitespace only", "   \n\t ", false},
		{"below min length", "ab", false},
		{"padded short", "   ab   ", false},
		{"at min length", "abc", true},
		{"sentence", "Hello World", true},
		{"digits", "2024 07 15", true},
		{"unicode letters", "Grüße aus Köln", true},
		{"cjk", "中文文本测试", true},
		{"symbol noise", "#$%^&*@!~", false},
		{"mixed mostly noise", "a#$%^&*", false},
		{"punctuated prose", "Hello, world. This is fine!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadable(tt.text, p))
		})
	}
}

func TestIsReadableThresholdsAreConfigurable(t *testing.T) {
	text := "ab#" // ratio 2/3

	assert.False(t, IsReadable(text, Policy{Version: VersionRatioV2, MinLength: 3, MinRatio: 0.7}))
	assert.True(t, IsReadable(text, Policy{Version: VersionRatioV2, MinLength: 3, MinRatio: 0.6}))
	assert.False(t, IsReadable(text, Policy{Version: VersionRatioV2, MinLength: 4, MinRatio: 0.0}))
}

func TestIsReadableLengthProperty(t *testing.T) {
	p := Policy{Version: VersionRatioV2, MinLength: 8, MinRatio: 0.7}

	for n := 0; n < 16; n++ {
		text := strings.Repeat("a", n)
		assert.Equal(t, n >= p.MinLength, IsReadable(text, p), "length %d", n)
	}
}

func TestEmptyAlwaysRejected(t *testing.T) {
	for _, p := range []Policy{
		{Version: VersionRatioV2},
		{Version: VersionLegacyV1},
		{Version: VersionRatioV2, MinLength: 0, MinRatio: 0},
	} {
		assert.False(t, IsReadable("", p))
	}
}

func TestIsReadableLegacyV1(t *testing.T) {
	p := Policy{Version: VersionLegacyV1, MinLength: 3}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"prose", "The quick brown fox jumps over the lazy dog.", true},
		{"numbers only", "1234 5678 9012", false},
		{"long token without spaces", "abcdefghijklmnopqrstuvwxyz", false},
		{"short token", "Invoice", true},
		{"weird symbols", "ab§§§§ cd", false},
		{"allowed punctuation", "(alpha) [beta] {gamma}; \"delta\" 'eps'!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadable(tt.text, p))
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(""))
	assert.Equal(t, 1.0, Ratio("abc 123"))
	assert.InDelta(t, 0.5, Ratio("ab#$"), 1e-9)
}
