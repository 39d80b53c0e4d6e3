package text

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ChunkType string

const (
	ChunkTypeRegular      ChunkType = "regular"
	ChunkTypePageComplete ChunkType = "page_complete"
	ChunkTypePagePartial  ChunkType = "page_partial"
)

const (
	DefaultWindowSize = 500
	DefaultOverlap    = 100
)

var ErrInvalidWindow = errors.New("invalid window configuration")

// Options are the sliding-window parameters, both in tokens.
type Options struct {
	WindowSize int
	Overlap    int
}

func DefaultOptions() Options {
	return Options{WindowSize: DefaultWindowSize, Overlap: DefaultOverlap}
}

// Validate requires 0 < Overlap < WindowSize.
func (o Options) Validate() error {
	if o.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be > 0, got %d", ErrInvalidWindow, o.WindowSize)
	}
	if o.Overlap <= 0 || o.Overlap >= o.WindowSize {
		return fmt.Errorf("%w: overlap must be > 0 and < window size %d, got %d", ErrInvalidWindow, o.WindowSize, o.Overlap)
	}
	return nil
}

func (o Options) stride() int {
	return o.WindowSize - o.Overlap
}

// Chunk is one segment of a document before it is persisted.
// EndToken is inclusive: EndToken-StartToken+1 == TokenCount.
type Chunk struct {
	Index      int
	Content    string
	TokenCount int
	StartToken int
	EndToken   int
	Metadata   Metadata
}

// SourceInfo is the metadata variant for URL and transcript sources.
type SourceInfo struct {
	ChunkNumber  int
	IsLastChunk  bool
	SourceType   string
	Timestamp    *float64
	HasTimestamp bool
}

// Metadata holds one of three variants: regular text, paginated text, or
// URL/transcript text (Source != nil). Only the variant's fields are serialized.
type Metadata struct {
	ChunkType       ChunkType
	StartChar       int
	EndChar         int
	PageNumber      int
	IsPageBoundary  bool
	PageTokenOffset *int
	Source          *SourceInfo
}

func (m Metadata) IsPaginated() bool {
	return m.Source == nil && (m.ChunkType == ChunkTypePageComplete || m.ChunkType == ChunkTypePagePartial)
}

type metadataJSON struct {
	ChunkType       ChunkType `json:"chunkType,omitempty"`
	StartChar       *int      `json:"startChar,omitempty"`
	EndChar         *int      `json:"endChar,omitempty"`
	PageNumber      *int      `json:"pageNumber,omitempty"`
	IsPageBoundary  *bool     `json:"isPageBoundary,omitempty"`
	PageTokenOffset *int      `json:"pageTokenOffset,omitempty"`
	ChunkNumber     *int      `json:"chunkNumber,omitempty"`
	IsLastChunk     *bool     `json:"isLastChunk,omitempty"`
	SourceType      string    `json:"sourceType,omitempty"`
	Timestamp       *float64  `json:"timestamp,omitempty"`
	HasTimestamp    *bool     `json:"hasTimestamp,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var out metadataJSON
	switch {
	case m.Source != nil:
		out.ChunkNumber = &m.Source.ChunkNumber
		out.IsLastChunk = &m.Source.IsLastChunk
		out.SourceType = m.Source.SourceType
		out.Timestamp = m.Source.Timestamp
		out.HasTimestamp = &m.Source.HasTimestamp
	case m.IsPaginated():
		out.ChunkType = m.ChunkType
		out.StartChar = &m.StartChar
		out.EndChar = &m.EndChar
		out.PageNumber = &m.PageNumber
		out.IsPageBoundary = &m.IsPageBoundary
		out.PageTokenOffset = m.PageTokenOffset
	default:
		out.ChunkType = ChunkTypeRegular
		out.StartChar = &m.StartChar
		out.EndChar = &m.EndChar
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var in metadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Metadata{ChunkType: in.ChunkType, PageTokenOffset: in.PageTokenOffset}
	if in.StartChar != nil {
		m.StartChar = *in.StartChar
	}
	if in.EndChar != nil {
		m.EndChar = *in.EndChar
	}
	if in.PageNumber != nil {
		m.PageNumber = *in.PageNumber
	}
	if in.IsPageBoundary != nil {
		m.IsPageBoundary = *in.IsPageBoundary
	}
	if in.SourceType != "" || in.ChunkNumber != nil {
		src := &SourceInfo{SourceType: in.SourceType, Timestamp: in.Timestamp}
		if in.ChunkNumber != nil {
			src.ChunkNumber = *in.ChunkNumber
		}
		if in.IsLastChunk != nil {
			src.IsLastChunk = *in.IsLastChunk
		}
		if in.HasTimestamp != nil {
			src.HasTimestamp = *in.HasTimestamp
		}
		m.Source = src
	}
	return nil
}
