package chunk

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/errors"
)

func TestSplit_HardCutScenario(t *testing.T) {
	text := strings.Repeat("a", 12000)

	chunks, err := Split(text, 5000, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, [2]int{0, 5000}, [2]int{chunks[0].Start, chunks[0].End})
	assert.Equal(t, [2]int{4000, 9000}, [2]int{chunks[1].Start, chunks[1].End})
	assert.Equal(t, [2]int{8000, 12000}, [2]int{chunks[2].Start, chunks[2].End})
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplit_ShortText(t *testing.T) {
	chunks, err := Split("Hello team. Let's start.", 5000, 1000)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, "Hello team. Let's start.", chunks[0].Text)

	chunks, err = Split("", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split("some text", tt.size, tt.overlap)
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))
		})
	}
}

func TestSplit_PrefersParagraphThenSentence(t *testing.T) {
	// paragraph break ends at 40, sentence end at 55, limit at 60
	text := strings.Repeat("x", 38) + "\n\n" + strings.Repeat("y", 13) + ". " + strings.Repeat("z", 50)

	chunks, err := SplitWithLookback(text, 60, 5, 30)
	require.NoError(t, err)
	assert.Equal(t, 40, chunks[0].End, "paragraph break wins over a later sentence end")

	noParagraph := strings.Repeat("x", 53) + ". " + strings.Repeat("z", 50)
	chunks, err = SplitWithLookback(noParagraph, 60, 5, 30)
	require.NoError(t, err)
	assert.Equal(t, 55, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, ". "))
}

func TestSplit_BoundaryMustAdvance(t *testing.T) {
	// the only sentence end is so early that the next window would not move forward
	text := "a. " + strings.Repeat("b", 30)

	chunks, err := SplitWithLookback(text, 10, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, chunks[0].End, "falls back to hard cut")
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].Start, chunks[i-1].Start)
	}
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 25)

	chunks, err := SplitWithLookback(text, 10, 2, 0)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 10)
		assert.Equal(t, c.Len(), len([]rune(c.Text)))
	}
	assert.Equal(t, 25, chunks[len(chunks)-1].End)
}

func randomTranscript(r *rand.Rand, words int) string {
	vocab := []string{"we", "should", "ship", "the", "release", "on", "friday", "Alice", "agreed", "budget", "review"}
	ends := []string{" ", " ", " ", ". ", "? ", "\n", "\n\n"}
	var sb strings.Builder
	for i := 0; i < words; i++ {
		sb.WriteString(vocab[r.Intn(len(vocab))])
		sb.WriteString(ends[r.Intn(len(ends))])
	}
	return sb.String()
}

func TestSplit_CoverageProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		text := randomTranscript(r, 50+r.Intn(800))
		size := 20 + r.Intn(400)
		overlap := r.Intn(size)
		lookback := r.Intn(size + 1)

		chunks, err := SplitWithLookback(text, size, overlap, lookback)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		n := len([]rune(text))
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, n, chunks[len(chunks)-1].End)
		for i, c := range chunks {
			assert.LessOrEqual(t, c.Len(), size)
			assert.Greater(t, c.Len(), 0)
			if i > 0 {
				prev := chunks[i-1]
				assert.LessOrEqual(t, c.Start, prev.End, "no gap between chunk %d and %d", i-1, i)
				assert.Greater(t, c.Start, prev.Start)
			}
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := randomTranscript(rand.New(rand.NewSource(7)), 2000)

	first, err := Split(text, 500, 100)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Split(text, 500, 100)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
