package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/summary"
)

func TestReadTranscript(t *testing.T) {
	t.Run("stdin", func(t *testing.T) {
		cmd := &cobra.Command{}
		cmd.SetIn(strings.NewReader("Kirby: poyo"))

		text, err := readTranscript(cmd, nil)
		require.NoError(t, err)
		assert.Equal(t, "Kirby: poyo", text)

		text, err = readTranscript(cmd, []string{"-"})
		require.NoError(t, err)
		assert.Empty(t, text, "stdin already drained")
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dreamland.txt")
		require.NoError(t, os.WriteFile(path, []byte("Dedede: the cake is mine"), 0644))

		text, err := readTranscript(&cobra.Command{}, []string{path})
		require.NoError(t, err)
		assert.Equal(t, "Dedede: the cake is mine", text)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readTranscript(&cobra.Command{}, []string{filepath.Join(t.TempDir(), "nope.txt")})
		assert.ErrorContains(t, err, "failed to read transcript")
	})
}

func TestRenderSummary(t *testing.T) {
	sum := summary.New()
	sum.Set("action_items", &summary.Section{Title: "Action Items", Blocks: []summary.Block{
		{Type: "todo", Content: "Meta Knight sharpens Galaxia"},
	}})
	sum.Set("key_points", &summary.Section{Blocks: []summary.Block{
		{Type: "bullet", Content: "Warp Star is back"},
		{Type: "text", Content: "Plain note"},
	}})

	var buf bytes.Buffer
	renderSummary(&buf, sum)
	out := buf.String()

	assert.Contains(t, out, "[ ] Meta Knight sharpens Galaxia")
	assert.Contains(t, out, "• Warp Star is back")
	assert.Contains(t, out, "  Plain note")
	assert.Contains(t, out, "key_points", "untitled sections fall back to their key")
	assert.Less(t, strings.Index(out, "Action Items"), strings.Index(out, "key_points"))
}
