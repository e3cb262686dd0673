package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerStore_SetIfAbsent(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	markers := NewMarkerStore(backend)
	ctx := context.Background()

	created, err := markers.SetIfAbsent(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = markers.SetIfAbsent(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, markers.Delete(ctx, "abc"))

	created, err = markers.SetIfAbsent(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMarkerStore_DeleteMissing(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	assert.NoError(t, NewMarkerStore(backend).Delete(context.Background(), "nope"))
}
