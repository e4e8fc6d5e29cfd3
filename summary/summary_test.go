package summary

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary_SectionOrderIsAuthoritative(t *testing.T) {
	data := `{
		"action_items": {"title": "Action Items", "blocks": []},
		"session_summary": {"title": "Summary", "blocks": [{"id": "x", "type": "text", "content": "We met."}]},
		"_section_order": ["session_summary", "action_items"]
	}`

	var s Summary
	require.NoError(t, json.Unmarshal([]byte(data), &s))
	assert.Equal(t, []string{"session_summary", "action_items"}, s.Order)

	out, err := json.Marshal(&s)
	require.NoError(t, err)

	var back map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &back))
	assert.JSONEq(t, `["session_summary","action_items"]`, string(back[SectionOrderKey]))
}

func TestSummary_MissingOrderFallsBackToSortedKeys(t *testing.T) {
	var s Summary
	require.NoError(t, json.Unmarshal([]byte(`{"b":{"title":"B","blocks":[]},"a":{"title":"A","blocks":[]}}`), &s))
	assert.Equal(t, []string{"a", "b"}, s.Order)
}

func TestSummary_OrderListingUnknownKeys(t *testing.T) {
	var s Summary
	require.NoError(t, json.Unmarshal([]byte(`{"z":{"title":"Z","blocks":[]},"a":{"title":"A","blocks":[]},"_section_order":["ghost","z"]}`), &s))
	assert.Equal(t, []string{"z", "a"}, s.Order, "unknown keys ignored, unlisted sections appended")
}

func TestSummary_NormalizeAssignsIDs(t *testing.T) {
	s := New()
	s.Set("key_points", &Section{Title: "Key Points", Blocks: []Block{
		{Content: "first"},
		{Content: ""},
		{Type: "todo", Content: "second"},
	}})
	s.Normalize()

	blocks := s.Section("key_points").Blocks
	require.Len(t, blocks, 2)
	assert.Equal(t, "key_points-1", blocks[0].ID)
	assert.Equal(t, "bullet", blocks[0].Type)
	assert.Equal(t, "key_points-2", blocks[1].ID)
	assert.Equal(t, "todo", blocks[1].Type)
	assert.Equal(t, 2, s.BlockCount())
}

func TestBlock_AcceptsBareString(t *testing.T) {
	var sec Section
	require.NoError(t, json.Unmarshal([]byte(`{"title":"T","blocks":["plain",{"content":"obj","color":"gray"}]}`), &sec))
	require.Len(t, sec.Blocks, 2)
	assert.Equal(t, "plain", sec.Blocks[0].Content)
	assert.Equal(t, "gray", sec.Blocks[1].Color)
}

func TestSummary_EmptyMarshal(t *testing.T) {
	out, err := json.Marshal(New())
	require.NoError(t, err)
	assert.JSONEq(t, `{"_section_order":[]}`, string(out))
}
