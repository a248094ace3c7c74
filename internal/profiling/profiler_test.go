package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Heap: "heap.out"}.Enabled())
}

func TestSession_WritesRequestedProfiles(t *testing.T) {
	// Given: all three profiles requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.out"),
		Heap:  filepath.Join(dir, "heap.out"),
		Trace: filepath.Join(dir, "trace.out"),
	}

	// When: a session runs some work and stops
	s, err := Start(opts)
	require.NoError(t, err)
	sum := 0
	for i := range 100000 {
		sum += i
	}
	_ = sum
	require.NoError(t, s.Stop())

	// Then: every file is written
	for _, p := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}

	// And: stopping again is harmless
	assert.NoError(t, s.Stop())
}

func TestStart_BadPath(t *testing.T) {
	// Given: a CPU profile path in a missing directory
	opts := Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.out")}

	// When: starting
	s, err := Start(opts)

	// Then: it fails without leaving a session
	require.Error(t, err)
	assert.Nil(t, s)
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}
