// Package chunk splits transcript text into overlapping windows for per-chunk summarization.
//
// Offsets are rune offsets into the source text. Window ends prefer a
// paragraph break, then a sentence end, within a lookback window before the
// hard size limit.
package chunk

import (
	"github.com/teranos/recap/errors"
)

// DefaultLookback is how far before the size limit a boundary is searched for
const DefaultLookback = 200

// Chunk is one window [Start, End) of the source text
type Chunk struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"-"`
}

// Len returns the chunk length in runes
func (c Chunk) Len() int { return c.End - c.Start }

// Validate checks a size and overlap pair
func Validate(size, overlap int) error {
	if size <= 0 {
		return errors.NewConfigurationError("chunk_size", "must be positive, got %d", size)
	}
	if overlap < 0 {
		return errors.NewConfigurationError("overlap", "must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return errors.NewConfigurationError("overlap", "must be smaller than chunk_size (%d >= %d)", overlap, size)
	}
	return nil
}

// Split splits text with the default lookback
func Split(text string, size, overlap int) ([]Chunk, error) {
	return SplitWithLookback(text, size, overlap, DefaultLookback)
}

// SplitWithLookback splits text into windows of at most size runes, each starting
// overlap runes before the previous one ended. Empty text yields no chunks.
func SplitWithLookback(text string, size, overlap, lookback int) ([]Chunk, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if lookback < 0 {
		return nil, errors.NewConfigurationError("boundary_lookback", "must not be negative, got %d", lookback)
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	if n <= size {
		return []Chunk{{Index: 0, Start: 0, End: n, Text: text}}, nil
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + size
		if end >= n {
			end = n
		} else if b := boundary(runes, start, end, lookback, overlap); b > 0 {
			end = b
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			return chunks, nil
		}
		start = end - overlap
	}
}

// boundary returns the best split position in (end-lookback, end], or 0.
// A position is only usable if the next window would still advance.
func boundary(runes []rune, start, end, lookback, overlap int) int {
	floor := end - lookback
	if lo := start + overlap + 1; floor < lo {
		floor = lo
	}

	for p := end; p >= floor; p-- {
		if p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n' {
			return p
		}
	}
	for p := end; p >= floor; p-- {
		if isSentenceEnd(runes, p) {
			return p
		}
	}
	return 0
}

func isSentenceEnd(runes []rune, p int) bool {
	if p < 1 {
		return false
	}
	if runes[p-1] == '\n' {
		return true
	}
	if p < 2 || runes[p-1] != ' ' {
		return false
	}
	switch runes[p-2] {
	case '.', '!', '?':
		return true
	}
	return false
}
