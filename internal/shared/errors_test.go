package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFoundErrorMatchesKind(t *testing.T) {
	err := NotFound("item", "WIDGET")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrConflict)
	require.Equal(t, `item "WIDGET" not found`, err.Error())
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 50, ClampLimit(0, 50, 500))
	require.Equal(t, 500, ClampLimit(10000, 50, 500))
	require.Equal(t, 20, ClampLimit(20, 50, 500))
	require.Equal(t, DefaultPageLimit, ClampLimit(-1, 0, 0))
}
