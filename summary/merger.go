package summary

import (
	"context"
	"sort"

	"github.com/teranos/recap/ai/llm"
	"github.com/teranos/recap/errors"
)

// Merger combines chunk results into the final Summary
type Merger struct {
	summarizer *Summarizer
	reducePass bool
}

// NewMerger creates a merger. With reducePass, multi-chunk jobs issue one extra
// provider call through s; otherwise sections are concatenated in chunk order.
func NewMerger(s *Summarizer, reducePass bool) *Merger {
	return &Merger{summarizer: s, reducePass: reducePass}
}

// Merge requires a successful result for every index in [0, total).
// A failed or missing chunk is a ChunkFailure naming the lowest such index.
func (m *Merger) Merge(ctx context.Context, results []ChunkResult, total int, cfg Config) (*Summary, error) {
	ordered := make([]ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	byIndex := make(map[int]ChunkResult, len(ordered))
	for _, r := range ordered {
		byIndex[r.Index] = r
	}
	for i := 0; i < total; i++ {
		r, ok := byIndex[i]
		if !ok {
			return nil, &errors.ChunkFailure{Index: i, Cause: errors.New("no result")}
		}
		if !r.OK() {
			cause := r.Err
			if cause == nil {
				cause = errors.New("empty result")
			}
			return nil, &errors.ChunkFailure{Index: i, Cause: cause}
		}
	}
	if total == 0 {
		return nil, &errors.MergeFailure{Cause: errors.New("no chunks to merge")}
	}

	parts := make([]*Summary, total)
	for i := 0; i < total; i++ {
		parts[i] = byIndex[i].Summary
	}

	if total == 1 {
		return parts[0], nil
	}
	if !m.reducePass || m.summarizer == nil {
		return Concatenate(cfg.Template, parts), nil
	}
	return m.reduce(ctx, parts, cfg)
}

func (m *Merger) reduce(ctx context.Context, parts []*Summary, cfg Config) (*Summary, error) {
	partials := make([]string, len(parts))
	for i, p := range parts {
		partials[i] = Compact(p)
	}

	system, user := ReducePrompt(cfg.Template, partials, cfg.CustomPrompt)
	req := llm.Request{
		SystemPrompt:  system,
		UserPrompt:    user,
		Model:         cfg.Model,
		OperationType: "reduce",
		EntityID:      cfg.JobID,
	}

	sum, _, _, err := m.summarizer.generate(ctx, req, cfg, -1)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.MergeFailure{Cause: err}
	}
	return sum, nil
}

// Concatenate merges parts section by section in the order given, following template order.
func Concatenate(t *Template, parts []*Summary) *Summary {
	out := New()
	for _, ts := range t.Sections {
		merged := &Section{Title: ts.Title, Blocks: []Block{}}
		present := false
		for _, p := range parts {
			sec := p.Section(ts.Key)
			if sec == nil {
				continue
			}
			present = true
			merged.Blocks = append(merged.Blocks, sec.Blocks...)
		}
		if present {
			out.Set(ts.Key, merged)
		}
	}
	out.Normalize()
	return out
}
