package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

func TestWriterLock_ExclusiveAcrossHandles(t *testing.T) {
	// Given: two locks on the same directory
	dir := t.TempDir()
	first := NewWriterLock(dir)
	second := NewWriterLock(dir)

	// When: the first acquires
	require.NoError(t, first.TryLock())
	defer first.Unlock()

	// Then: the second reports a retryable lock conflict
	err := second.TryLock()
	require.Error(t, err)
	assert.Equal(t, bserrors.ErrCodeIndexLocked, bserrors.GetCode(err))
	assert.True(t, bserrors.IsRetryable(err))
	assert.False(t, second.Held())
}

func TestWriterLock_AcquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	first := NewWriterLock(dir)
	second := NewWriterLock(dir)
	require.NoError(t, first.TryLock())

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = first.Unlock()
	}()

	cfg := bserrors.RetryConfig{MaxRetries: 20, InitialDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 1.5}
	require.NoError(t, second.Acquire(context.Background(), cfg))
	assert.True(t, second.Held())
	require.NoError(t, second.Unlock())
}

func TestWriterLock_AcquireHonorsContext(t *testing.T) {
	dir := t.TempDir()
	holder := NewWriterLock(dir)
	require.NoError(t, holder.TryLock())
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewWriterLock(dir).Acquire(ctx, bserrors.DefaultRetryConfig())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWriterLock_InMemoryAndIdempotent(t *testing.T) {
	l := NewWriterLock("")
	assert.Empty(t, l.Path())

	require.NoError(t, l.TryLock())
	require.NoError(t, l.TryLock())
	assert.True(t, l.Held())
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
	assert.False(t, l.Held())
}
