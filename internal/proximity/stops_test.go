package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstInSequence(t *testing.T) {
	first, ok := firstInSequence([]Stop{{ID: "x", Sequence: 4}, {ID: "y", Sequence: 2}, {ID: "z", Sequence: 2}})
	assert.True(t, ok)
	assert.Equal(t, "y", first.ID)

	_, ok = firstInSequence(nil)
	assert.False(t, ok)
}
