package text

import (
	"errors"
	"fmt"
)

var ErrReconstruct = errors.New("failed to reconstruct chunk text")

// Strategy rebuilds the text of a token slice that starts at token index start
// of original. Strategies are tried in order; the first success wins.
type Strategy func(tokens []int, original string, start int) (string, error)

type Decoder interface {
	Decode(tokens []int) (string, error)
}

// Reconstructor is an ordered fallback chain of strategies.
type Reconstructor []Strategy

func (r Reconstructor) Text(tokens []int, original string, start int) (string, error) {
	var errs []error
	for _, s := range r {
		text, err := s(tokens, original, start)
		if err == nil {
			return text, nil
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w at token %d: %w", ErrReconstruct, start, errors.Join(errs...))
}

// NewReconstructor returns the decode, proportional, positional chain for a text
// of totalTokens tokens.
func NewReconstructor(d Decoder, totalTokens int, opts Options) Reconstructor {
	return Reconstructor{
		DecodeStrategy(d),
		ProportionalStrategy(totalTokens),
		PositionalStrategy(totalTokens, opts),
	}
}

// DecodeStrategy decodes the exact token slice.
func DecodeStrategy(d Decoder) Strategy {
	return func(tokens []int, _ string, _ int) (string, error) {
		return d.Decode(tokens)
	}
}

// ProportionalStrategy slices original at [start*avg, (start+len)*avg) where avg
// is the document's characters per token.
func ProportionalStrategy(totalTokens int) Strategy {
	return func(tokens []int, original string, start int) (string, error) {
		runes := []rune(original)
		if totalTokens <= 0 || len(runes) == 0 {
			return "", errors.New("proportional: empty source")
		}
		avg := float64(len(runes)) / float64(totalTokens)
		from := int(float64(start) * avg)
		to := int(float64(start+len(tokens)) * avg)
		if to > len(runes) {
			to = len(runes)
		}
		if from >= to {
			return "", fmt.Errorf("proportional: empty span [%d,%d)", from, to)
		}
		return string(runes[from:to]), nil
	}
}

// PositionalStrategy splits original into one equal span per window and
// returns the span of the chunk's ordinal, start/stride.
func PositionalStrategy(totalTokens int, opts Options) Strategy {
	return func(_ []int, original string, start int) (string, error) {
		runes := []rune(original)
		stride := opts.stride()
		if totalTokens <= 0 || stride <= 0 || len(runes) == 0 {
			return "", errors.New("positional: empty source")
		}
		spans := len(WindowRanges(totalTokens, opts))
		spanLen := (len(runes) + spans - 1) / spans
		idx := start / stride
		if idx >= spans {
			idx = spans - 1
		}
		from := idx * spanLen
		to := from + spanLen
		if to > len(runes) {
			to = len(runes)
		}
		if from >= to {
			return "", fmt.Errorf("positional: empty span %d", idx)
		}
		return string(runes[from:to]), nil
	}
}
