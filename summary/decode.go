package summary

import (
	"encoding/json"
	"strings"

	"github.com/teranos/recap/errors"
)

// ErrUndecodable marks provider output that is not a usable summary object
var ErrUndecodable = errors.New("undecodable summary output")

// ExtractJSON strips code fences and surrounding prose, returning the outermost object
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", errors.Wrap(ErrUndecodable, "no JSON object in output")
	}
	return text[start : end+1], nil
}

// Decode parses provider output into a Summary shaped by t.
// Sections not in the template are dropped. Without _section_order the template order applies.
func Decode(text string, t *Template) (*Summary, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "invalid JSON: %v", err)
	}
	if err := t.Validate(generic); err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "%v", err)
	}

	var s Summary
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "invalid summary: %v", err)
	}

	out := New()
	for _, key := range s.Order {
		ts, ok := t.SectionByKey(key)
		if !ok {
			continue
		}
		sec := s.Sections[key]
		if sec.Title == "" {
			sec.Title = ts.Title
		}
		for i := range sec.Blocks {
			if sec.Blocks[i].Type == "" {
				sec.Blocks[i].Type = ts.Format
			}
		}
		out.Set(key, sec)
	}
	if _, hasOrder := generic[SectionOrderKey]; !hasOrder {
		out.Reorder(t.Keys())
	}
	out.Normalize()
	return out, nil
}

// Compact encodes s for embedding in prompts
func Compact(s *Summary) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
