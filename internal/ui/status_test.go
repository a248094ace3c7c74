package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRenderer_Render(t *testing.T) {
	// Given
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When
	err := r.Render(StatusInfo{
		State:       "READY",
		Backend:     "sqlite",
		Dir:         "/tmp/idx",
		Documents:   3,
		Pages:       4,
		SizeBytes:   2048,
		Built:       true,
		LastIndexed: time.Now().Add(-2 * time.Hour),
	})

	// Then
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "State:        READY")
	assert.Contains(t, out, "Documents:    3")
	assert.Contains(t, out, "Pages:        4")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "2 hours ago")
	assert.NotContains(t, out, "No complete build")
}

func TestStatusRenderer_Render_NotBuilt(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, NewStatusRenderer(buf, true).Render(StatusInfo{State: "EMPTY", LastError: "cancelled"}))

	assert.Contains(t, buf.String(), "No complete build yet")
	assert.Contains(t, buf.String(), "Last error:   cancelled")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(StatusInfo{State: "READY", Backend: "bleve", Pages: 4}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "READY", got["state"])
	assert.Equal(t, float64(4), got["pages"])
	assert.NotContains(t, got, "last_indexed")
	assert.NotContains(t, got, "last_run")
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatTime(now))
	assert.Equal(t, "1 minute ago", formatTime(now.Add(-90*time.Second)))
	assert.Equal(t, "3 days ago", formatTime(now.Add(-73*time.Hour)))
	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, old.Format("2006-01-02 15:04"), formatTime(old))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2<<20))
	assert.Equal(t, "1.0 GB", FormatBytes(1<<30))
}

func TestGetStyles_NoColorRendersPlain(t *testing.T) {
	assert.Equal(t, "READY", GetStyles(true).Success.Render("READY"))
}
