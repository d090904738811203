package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicSetOperations(t *testing.T) {
	s := NewSet[int]()
	assert.Equal(t, len(s), 0)
	assert.Equal(t, map[int]struct{}(s), map[int]struct{}{})

	s.Insert(1)
	assert.Equal(t, s, NewSet(1))
	assert.True(t, s.Contains(1))

	s.Delete(1)
	assert.Equal(t, s, NewSet[int]())
	assert.False(t, s.Contains(1))
}

func TestNewSetAcceptsMultipleValues(t *testing.T) {
	s := NewSet(1, 2, 3)
	assert.True(t, s.Contains(1))
	assert.True(t, s.Contains(2))
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
}
