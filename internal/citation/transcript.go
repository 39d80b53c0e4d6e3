package citation

import (
	"encoding/json"
	"fmt"
	"io"
)

// Snippet is one timed line of a video transcript, in seconds.
type Snippet struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Transcript is the document written by the transcript fetcher.
type Transcript struct {
	VideoID       string    `json:"video_id"`
	Snippets      []Snippet `json:"snippets"`
	TotalDuration float64   `json:"total_duration"`
	SnippetCount  int       `json:"snippet_count"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
}

func ParseTranscript(r io.Reader) (*Transcript, error) {
	var t Transcript
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if t.SnippetCount == 0 {
		t.SnippetCount = len(t.Snippets)
	}
	if t.TotalDuration == 0 && len(t.Snippets) > 0 {
		last := t.Snippets[len(t.Snippets)-1]
		t.TotalDuration = last.Start + last.Duration
	}
	return &t, nil
}

// UsableSnippets returns the snippets of a successful fetch. A fetch that
// reported an error yields no snippets rather than an error.
func (t *Transcript) UsableSnippets() []Snippet {
	if t == nil || t.Error != "" {
		return nil
	}
	return t.Snippets
}
