package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsUUID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1b4e28ba", ShortID("1b4e28ba-2fa1-11d2-883f-0016d3cca427"))
	assert.Equal(t, "plain", ShortID("plain"))
}
