package roomname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateShape(t *testing.T) {
	name := Generate(nil)
	parts := strings.Split(name, "-")
	assert.Len(t, parts, 4)
	assert.Contains(t, colors, parts[0])
	assert.Contains(t, moods, parts[1])
	assert.Contains(t, creatures, parts[2])
	assert.Contains(t, things, parts[3])
}

func TestGenerateSkipsTakenNames(t *testing.T) {
	var rejected []string
	name := Generate(func(n string) bool {
		if len(rejected) < 3 {
			rejected = append(rejected, n)
			return true
		}
		return false
	})
	assert.Len(t, rejected, 3)
	assert.NotEmpty(t, name)
}

func TestCurrentPrefersConfiguredRoom(t *testing.T) {
	assert.Equal(t, "r1", Current("  r1 "))
	assert.Len(t, strings.Split(Current(""), "-"), 4)
}
