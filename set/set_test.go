package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroValueAdd(t *testing.T) {
	var s Set[string]
	assert.True(t, s.Add("reserve"))
	assert.False(t, s.Add("reserve"))
	assert.True(t, s.Add("charge"))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("charge"))
	assert.False(t, s.Has("ship"))
}

func TestOf(t *testing.T) {
	s := Of(1, 2, 2, 3)
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Add(2))
	assert.True(t, s.Add(4))
}
