package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"  Leading & trailing!  ", "leading-trailing"},
		{"C++ vs Rust: A Comparison", "c-vs-rust-a-comparison"},
		{"already-kebab-cased", "already-kebab-cased"},
		{"Ünïcode Tïtle", "ünïcode-tïtle"},
		{"!!!", "untitled"},
		{"", "untitled"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}
}

func TestSlugifyLengthCap(t *testing.T) {
	long := strings.Repeat("word ", 30)
	slug := Slugify(long)
	assert.LessOrEqual(t, len(slug), maxSlugLen)
	assert.False(t, strings.HasSuffix(slug, "-"), "truncation must not leave a trailing hyphen")
	// Truncation lands on a word boundary.
	assert.NotEqual(t, "wor", slug[len(slug)-3:])
}

func TestCollisionSlug(t *testing.T) {
	slug := CollisionSlug("hello-world", "abcdef0123456789")
	assert.Equal(t, "hello-world-abcdef01", slug)
}

func TestCollisionSlugRespectsCap(t *testing.T) {
	base := Slugify(strings.Repeat("word ", 30))
	slug := CollisionSlug(base, "abcdef0123456789")
	assert.LessOrEqual(t, len(slug), maxSlugLen)
	assert.True(t, strings.HasSuffix(slug, "-abcdef01"))
}
