package workq

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItemTaggedError(t *testing.T) {
	base := errors.New("bad payload")
	err := newItemTaggedError(base, 42, 3)

	require.ErrorIs(t, err, base)
	require.Equal(t, "bad payload", err.Error())

	id, ok := ExtractItemID(err)
	require.True(t, ok)
	require.Equal(t, uint64(42), id)

	wid, ok := ExtractWorkerID(err)
	require.True(t, ok)
	require.Equal(t, 3, wid)

	require.Equal(t, "bad payload", fmt.Sprintf("%v", err))
	require.Equal(t, "item(id=42,worker=3): bad payload", fmt.Sprintf("%+v", err))
	require.Equal(t, `"bad payload"`, fmt.Sprintf("%q", err))
}

func TestItemTaggedError_Wrapped(t *testing.T) {
	err := fmt.Errorf("context: %w", newItemTaggedError(errors.New("x"), 9, 1))
	id, ok := ExtractItemID(err)
	require.True(t, ok)
	require.Equal(t, uint64(9), id)
}

func TestItemTaggedError_Nil(t *testing.T) {
	require.NoError(t, newItemTaggedError(nil, 1, 1))

	_, ok := ExtractItemID(errors.New("plain"))
	require.False(t, ok)
	_, ok = ExtractWorkerID(nil)
	require.False(t, ok)
}
