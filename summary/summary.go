// Package summary holds the structured meeting summary model, the section
// templates that shape it, the prompts sent to providers and the
// ChunkSummarizer and ResultMerger that produce it.
package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/teranos/recap/errors"
)

// SectionOrderKey carries the authoritative rendering order in serialized summaries
const SectionOrderKey = "_section_order"

// Block is one renderable item inside a section
type Block struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // text, bullet, heading1, heading2, todo
	Content string `json:"content"`
	Color   string `json:"color,omitempty"`
}

// Section is a titled list of blocks
type Section struct {
	Title  string  `json:"title"`
	Blocks []Block `json:"blocks"`
}

// Summary is an ordered set of named sections.
// Order is authoritative; Sections only provides lookup.
type Summary struct {
	Order    []string
	Sections map[string]*Section
}

// New returns an empty summary
func New() *Summary {
	return &Summary{Sections: make(map[string]*Section)}
}

// Section returns the named section or nil
func (s *Summary) Section(key string) *Section {
	if s == nil {
		return nil
	}
	return s.Sections[key]
}

// Set adds or replaces a section, appending it to the order if new
func (s *Summary) Set(key string, sec *Section) {
	if s.Sections == nil {
		s.Sections = make(map[string]*Section)
	}
	if _, exists := s.Sections[key]; !exists {
		s.Order = append(s.Order, key)
	}
	s.Sections[key] = sec
}

// Len returns the number of sections
func (s *Summary) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Order)
}

// BlockCount returns the total blocks across sections
func (s *Summary) BlockCount() int {
	n := 0
	for _, key := range s.Order {
		n += len(s.Sections[key].Blocks)
	}
	return n
}

// Normalize fills missing block ids and types and drops blank blocks.
// Ids are "<section>-<n>" in block order so identical content gets identical ids.
func (s *Summary) Normalize() {
	for _, key := range s.Order {
		sec := s.Sections[key]
		kept := make([]Block, 0, len(sec.Blocks))
		for _, b := range sec.Blocks {
			if b.Content == "" {
				continue
			}
			if b.Type == "" {
				b.Type = "bullet"
			}
			kept = append(kept, b)
		}
		for i := range kept {
			kept[i].ID = fmt.Sprintf("%s-%d", key, i+1)
		}
		sec.Blocks = kept
	}
}

// Reorder applies order to the summary: keys in order come first, the rest keep their current relative order
func (s *Summary) Reorder(order []string) {
	seen := make(map[string]bool, len(s.Order))
	next := make([]string, 0, len(s.Order))
	for _, key := range order {
		if _, ok := s.Sections[key]; ok && !seen[key] {
			next = append(next, key)
			seen[key] = true
		}
	}
	for _, key := range s.Order {
		if !seen[key] {
			next = append(next, key)
			seen[key] = true
		}
	}
	s.Order = next
}

// MarshalJSON writes one key per section followed by _section_order
func (s *Summary) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, key := range s.Order {
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.Sections[key])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal section %s", key)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		buf.WriteByte(',')
	}
	order := s.Order
	if order == nil {
		order = []string{}
	}
	o, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"` + SectionOrderKey + `":`)
	buf.Write(o)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the section map. If _section_order is present it decides
// the order; remaining sections follow sorted by key.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var order []string
	if o, ok := raw[SectionOrderKey]; ok {
		if err := json.Unmarshal(o, &order); err != nil {
			return errors.Wrapf(err, "invalid %s", SectionOrderKey)
		}
		delete(raw, SectionOrderKey)
	}

	sections := make(map[string]*Section, len(raw))
	keys := make([]string, 0, len(raw))
	for key, v := range raw {
		var sec Section
		if err := json.Unmarshal(v, &sec); err != nil {
			return errors.Wrapf(err, "invalid section %s", key)
		}
		sections[key] = &sec
		keys = append(keys, key)
	}
	sort.Strings(keys)

	*s = Summary{Order: keys, Sections: sections}
	s.Reorder(order)
	return nil
}

// UnmarshalJSON accepts a bare string as a block's content
func (b *Block) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var content string
		if err := json.Unmarshal(data, &content); err != nil {
			return err
		}
		*b = Block{Content: content}
		return nil
	}
	type plain Block
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Block(p)
	return nil
}
