package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) recordStore { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutSession(ctx, testSession("s1", baseTime, time.Minute), baseTime))

	got, err := store.GetSession(ctx, "s1", baseTime)
	require.NoError(t, err)
	got.FileIDs[0] = "mutated"
	got.RetryCount = 99

	again, err := store.GetSession(ctx, "s1", baseTime)
	require.NoError(t, err)
	assert.Equal(t, "file-a", again.FileIDs[0])
	assert.Equal(t, 0, again.RetryCount)
}
