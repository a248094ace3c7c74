package async

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/bibsearch/pkg/indexer"
)

func TestNewIndexProgress(t *testing.T) {
	// Given/When
	p := NewIndexProgress()

	// Then
	require.NotNil(t, p)
	snap := p.Snapshot()
	assert.Equal(t, string(StatusIndexing), snap.Status)
	assert.Equal(t, string(StageLoading), snap.Stage)
	assert.Zero(t, snap.FilesTotal)
	assert.Zero(t, snap.ProgressPct)
	assert.True(t, p.IsIndexing())
}

func TestIndexProgress_Observe(t *testing.T) {
	// Given
	p := NewIndexProgress()

	// When
	p.Observe(indexer.Progress{FilesTotal: 4, FilesDone: 1, Pages: 12, Failed: 1, Current: "/lib/a.pdf"})

	// Then
	snap := p.Snapshot()
	assert.Equal(t, string(StageExtracting), snap.Stage)
	assert.Equal(t, 4, snap.FilesTotal)
	assert.Equal(t, 1, snap.FilesProcessed)
	assert.Equal(t, 1, snap.FilesFailed)
	assert.Equal(t, 12, snap.PagesIndexed)
	assert.Equal(t, "/lib/a.pdf", snap.CurrentFile)
	assert.InDelta(t, 25.0, snap.ProgressPct, 0.001)
}

func TestIndexProgress_SetReady(t *testing.T) {
	p := NewIndexProgress()
	p.Observe(indexer.Progress{FilesTotal: 1, FilesDone: 1, Current: "/lib/a.pdf"})

	p.SetReady()

	snap := p.Snapshot()
	assert.False(t, p.IsIndexing())
	assert.Equal(t, string(StatusReady), snap.Status)
	assert.Equal(t, string(StageDone), snap.Stage)
	assert.Empty(t, snap.CurrentFile)
}

func TestIndexProgress_SetError(t *testing.T) {
	p := NewIndexProgress()

	p.SetError("disk full")

	snap := p.Snapshot()
	assert.False(t, p.IsIndexing())
	assert.Equal(t, string(StatusError), snap.Status)
	assert.Equal(t, "disk full", snap.ErrorMessage)
}

func TestIndexProgress_ConcurrentAccess(t *testing.T) {
	// Given
	p := NewIndexProgress()
	var wg sync.WaitGroup

	// When: writers and readers race
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Observe(indexer.Progress{FilesTotal: 10, FilesDone: i + 1})
		}()
		go func() {
			defer wg.Done()
			_ = p.Snapshot()
		}()
	}
	wg.Wait()

	// Then
	snap := p.Snapshot()
	assert.Equal(t, 10, snap.FilesTotal)
	assert.LessOrEqual(t, snap.ProgressPct, 100.0)
}
