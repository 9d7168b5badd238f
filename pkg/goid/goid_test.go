package goid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGID(t *testing.T) {
	main := GetGID()
	assert.NotZero(t, main)
	assert.Equal(t, main, GetGID())

	other := make(chan uint64)
	go func() { other <- GetGID() }()
	id := <-other
	assert.NotZero(t, id)
	assert.NotEqual(t, main, id)
}
