package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuto(t *testing.T) {
	ok, err := Auto(true).Confirm(context.Background(), "Release 1.0.1?", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Auto(false).Confirm(context.Background(), "Release 1.0.1?", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmersImplementInterface(t *testing.T) {
	var _ Confirmer = Auto(true)
	var _ Confirmer = Terminal{}
}
