package idutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesDistinctIDs(t *testing.T) {
	a, b := New(), New()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSyntheticCarriesPrefix(t *testing.T) {
	id := Synthetic("abort")
	assert.Contains(t, id, "abort-")
	assert.True(t, IsSynthetic(id, "abort"))
	assert.False(t, IsSynthetic(id, "retry"))
}

func TestIsSyntheticFalseForShortOrUnrelatedIDs(t *testing.T) {
	assert.False(t, IsSynthetic("x", "abort"))
	assert.False(t, IsSynthetic("msg-123", "abort"))
}
