package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	seen := map[string]bool{prev: true}
	for i := 0; i < 1000; i++ {
		id := New()
		assert.True(t, Valid(id))
		assert.False(t, seen[id])
		assert.Greater(t, id, prev)
		seen[id] = true
		prev = id
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
}
