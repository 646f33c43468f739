package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasPrefixAndIsUnique(t *testing.T) {
	a := New("sale")
	b := New("sale")
	assert.True(t, strings.HasPrefix(a, "sale-"))
	assert.NotEqual(t, a, b)
}

func TestDeriveIsDeterministic(t *testing.T) {
	first := Derive("owner-1", "michelinps4", "2254518")
	second := Derive("owner-1", "michelinps4", "2254518")
	assert.Equal(t, first, second)

	assert.NotEqual(t, first, Derive("owner-2", "michelinps4", "2254518"))
	assert.NotEqual(t, Derive("ab", "c"), Derive("a", "bc"))
}
