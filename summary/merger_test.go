package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/errors"
)

func decoded(t *testing.T, index int, points ...string) ChunkResult {
	t.Helper()
	s, err := Decode(sectionJSON(points...), mustTemplate(t, "standard_meeting"))
	require.NoError(t, err)
	return ChunkResult{Index: index, Summary: s, Attempts: 1}
}

func TestMerge_SingleChunkUsedDirectly(t *testing.T) {
	p := newScripted(outcome{text: "unused"})
	s, _ := newTestSummarizer(t, p)
	m := NewMerger(s, true)

	one := decoded(t, 0, "only")
	out, err := m.Merge(context.Background(), []ChunkResult{one}, 1, testConfig(t))
	require.NoError(t, err)
	assert.Same(t, one.Summary, out)
	assert.Equal(t, 0, p.callCount(), "no reduce pass for one chunk")
}

func TestMerge_ConcatenatesInIndexOrder(t *testing.T) {
	m := NewMerger(nil, false)
	cfg := testConfig(t)

	// completion order differs from index order
	results := []ChunkResult{decoded(t, 2, "c"), decoded(t, 0, "a1", "a2"), decoded(t, 1, "b")}
	out, err := m.Merge(context.Background(), results, 3, cfg)
	require.NoError(t, err)

	var contents []string
	for _, b := range out.Section("key_points").Blocks {
		contents = append(contents, b.Content)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, contents)

	shuffled := []ChunkResult{results[1], results[2], results[0]}
	again, err := m.Merge(context.Background(), shuffled, 3, cfg)
	require.NoError(t, err)
	assert.Equal(t, Compact(out), Compact(again))
}

func TestMerge_ReducePassSeesPartsInOrder(t *testing.T) {
	p := newScripted(outcome{text: `{"session_summary":{"blocks":["merged"]},"key_points":{"blocks":["x"]}}`})
	s, _ := newTestSummarizer(t, p)
	m := NewMerger(s, true)

	out, err := m.Merge(context.Background(), []ChunkResult{decoded(t, 1, "second"), decoded(t, 0, "first")}, 2, testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"session_summary", "key_points"}, out.Order)

	require.Equal(t, 1, p.callCount())
	req := p.calls[0]
	assert.Equal(t, "reduce", req.OperationType)
	assert.Less(t, strings.Index(req.UserPrompt, "first"), strings.Index(req.UserPrompt, "second"))
}

func TestMerge_FailedChunkIsNamed(t *testing.T) {
	m := NewMerger(nil, false)
	results := []ChunkResult{
		decoded(t, 0, "a"),
		decoded(t, 1, "b"),
		{Index: 2, Err: llm.Fatal("fake", "model not found"), Attempts: 1},
	}

	_, err := m.Merge(context.Background(), results, 3, testConfig(t))
	var cf *errors.ChunkFailure
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, 2, cf.Index)
	assert.Contains(t, err.Error(), "chunk 2 failed")
	assert.Contains(t, err.Error(), "model not found")
}

func TestMerge_MissingChunk(t *testing.T) {
	m := NewMerger(nil, false)
	_, err := m.Merge(context.Background(), []ChunkResult{decoded(t, 0, "a"), decoded(t, 2, "c")}, 3, testConfig(t))
	var cf *errors.ChunkFailure
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, 1, cf.Index)
}

func TestMerge_ReduceFailureIsMergeFailure(t *testing.T) {
	p := newScripted(outcome{err: llm.Fatal("fake", "context length exceeded")})
	s, _ := newTestSummarizer(t, p)
	m := NewMerger(s, true)

	_, err := m.Merge(context.Background(), []ChunkResult{decoded(t, 0, "a"), decoded(t, 1, "b")}, 2, testConfig(t))
	var mf *errors.MergeFailure
	require.True(t, errors.As(err, &mf))
	assert.Contains(t, err.Error(), "merge failed")
}
