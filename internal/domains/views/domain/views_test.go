package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewer(t *testing.T) {
	assert.True(t, Newer(nil, 0))
	assert.True(t, Newer(&AppliedVersion{Version: 1}, 2))
	assert.False(t, Newer(&AppliedVersion{Version: 2}, 2))
	assert.False(t, Newer(&AppliedVersion{Version: 3}, 2))
}
