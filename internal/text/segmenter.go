package text

import (
	"fmt"
	"unicode/utf8"
)

// Tokenizer is the subset of the tokenizer adapter the segmenters need.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
}

// Range is a half-open token range [Start, End).
type Range struct {
	Start int
	End   int
}

// WindowRanges returns the windows covering [0, n) with the given stride.
// Iteration stops at the first window that reaches n, so only the last
// window can be shorter than size.
func WindowRanges(n int, opts Options) []Range {
	if n <= 0 {
		return nil
	}
	var ranges []Range
	for i := 0; i < n; i += opts.stride() {
		end := i + opts.WindowSize
		if end > n {
			end = n
		}
		ranges = append(ranges, Range{Start: i, End: end})
		if end == n {
			break
		}
	}
	return ranges
}

// Segmenter turns token sequences into overlapping chunks.
type Segmenter struct {
	tok  Tokenizer
	opts Options
}

func NewSegmenter(tok Tokenizer, opts Options) (*Segmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{tok: tok, opts: opts}, nil
}

func (s *Segmenter) Options() Options {
	return s.opts
}

// Window chunks the whole document. Character offsets are running sums of the
// reconstructed chunk lengths, not true decode positions.
func (s *Segmenter) Window(tokens []int, original string) ([]Chunk, error) {
	rec := NewReconstructor(s.tok, len(tokens), s.opts)

	var chunks []Chunk
	charCursor := 0
	for _, r := range WindowRanges(len(tokens), s.opts) {
		content, err := rec.Text(tokens[r.Start:r.End], original, r.Start)
		if err != nil {
			return nil, err
		}
		length := utf8.RuneCountInString(content)
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    content,
			TokenCount: r.End - r.Start,
			StartToken: r.Start,
			EndToken:   r.End - 1,
			Metadata: Metadata{
				ChunkType: ChunkTypeRegular,
				StartChar: charCursor,
				EndChar:   charCursor + length,
			},
		})
		charCursor += length
	}
	return chunks, nil
}

// Pages chunks each page on its own while keeping chunk index, token offset
// and character offset continuous across pages. With no page texts, or when
// every page is empty, it falls back to Window over the full document.
func (s *Segmenter) Pages(tokens []int, original string, pageTexts []string) ([]Chunk, error) {
	if len(pageTexts) == 0 {
		return s.Window(tokens, original)
	}

	var chunks []Chunk
	tokenCursor, charCursor := 0, 0
	for p, pageText := range pageTexts {
		pageTokens, err := s.tok.Encode(pageText)
		if err != nil {
			return nil, fmt.Errorf("tokenize page %d: %w", p+1, err)
		}
		if len(pageTokens) == 0 {
			continue
		}
		rec := NewReconstructor(s.tok, len(pageTokens), s.opts)

		if len(pageTokens) <= s.opts.WindowSize {
			content, err := rec.Text(pageTokens, pageText, 0)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", p+1, err)
			}
			length := utf8.RuneCountInString(content)
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Content:    content,
				TokenCount: len(pageTokens),
				StartToken: tokenCursor,
				EndToken:   tokenCursor + len(pageTokens) - 1,
				Metadata: Metadata{
					ChunkType:      ChunkTypePageComplete,
					PageNumber:     p + 1,
					StartChar:      charCursor,
					EndChar:        charCursor + length,
					IsPageBoundary: true,
				},
			})
			charCursor += length
		} else {
			for i, r := range WindowRanges(len(pageTokens), s.opts) {
				content, err := rec.Text(pageTokens[r.Start:r.End], pageText, r.Start)
				if err != nil {
					return nil, fmt.Errorf("page %d: %w", p+1, err)
				}
				length := utf8.RuneCountInString(content)
				offset := r.Start
				chunks = append(chunks, Chunk{
					Index:      len(chunks),
					Content:    content,
					TokenCount: r.End - r.Start,
					StartToken: tokenCursor + r.Start,
					EndToken:   tokenCursor + r.End - 1,
					Metadata: Metadata{
						ChunkType:       ChunkTypePagePartial,
						PageNumber:      p + 1,
						StartChar:       charCursor,
						EndChar:         charCursor + length,
						IsPageBoundary:  i == 0,
						PageTokenOffset: &offset,
					},
				})
				charCursor += length
			}
		}
		tokenCursor += len(pageTokens)
	}

	if len(chunks) == 0 {
		return s.Window(tokens, original)
	}
	return chunks, nil
}

// ApplySource switches chunks to the URL/transcript metadata variant.
func ApplySource(chunks []Chunk, sourceType string) {
	for i := range chunks {
		chunks[i].Metadata.Source = &SourceInfo{
			ChunkNumber: i + 1,
			IsLastChunk: i == len(chunks)-1,
			SourceType:  sourceType,
		}
	}
}

// SetTimestamp records a located transcript position on a source chunk.
func (c *Chunk) SetTimestamp(seconds float64) {
	if c.Metadata.Source == nil {
		return
	}
	ts := seconds
	c.Metadata.Source.Timestamp = &ts
	c.Metadata.Source.HasTimestamp = true
}
