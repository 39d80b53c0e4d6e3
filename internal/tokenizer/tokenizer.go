package tokenizer

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE scheme used when none is configured.
const DefaultEncoding = "cl100k_base"

var (
	ErrNotInitialized = errors.New("tokenizer not initialized")
	ErrDecode         = errors.New("failed to decode tokens")
)

// Encoder is the model-specific byte/token codec behind a Tokenizer.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Loader builds the Encoder for an encoding name. It runs at most once per Tokenizer.
type Loader func(encoding string) (Encoder, error)

type Option func(*Tokenizer)

// WithLoader replaces the tiktoken loader, mainly for tests.
func WithLoader(l Loader) Option {
	return func(t *Tokenizer) {
		t.loader = l
	}
}

// Tokenizer lazily loads its encoding on first use and reuses it afterwards.
// It holds no per-call state, so one instance can serve concurrent pipeline runs.
type Tokenizer struct {
	encoding string
	loader   Loader

	once    sync.Once
	enc     Encoder
	initErr error
}

func New(encoding string, opts ...Option) *Tokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	t := &Tokenizer{encoding: encoding, loader: tiktokenLoader}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Initialize loads the encoding. Repeated calls return the memoized result.
func (t *Tokenizer) Initialize() error {
	t.once.Do(func() {
		enc, err := t.loader(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load encoding %q: %w", t.encoding, err)
			return
		}
		if enc == nil {
			t.initErr = fmt.Errorf("load encoding %q: %w", t.encoding, ErrNotInitialized)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *Tokenizer) Encoding() string {
	return t.encoding
}

func (t *Tokenizer) Encode(text string) ([]int, error) {
	if err := t.Initialize(); err != nil {
		return nil, err
	}
	return t.enc.Encode(text), nil
}

// Decode reports ErrDecode instead of returning text that is not valid UTF-8,
// which happens when a token slice cuts a multi-byte character in half.
func (t *Tokenizer) Decode(tokens []int) (text string, err error) {
	if err := t.Initialize(); err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrDecode, r)
		}
	}()
	text = t.enc.Decode(tokens)
	if !utf8.ValidString(text) {
		return "", ErrDecode
	}
	return text, nil
}

type tiktokenEncoder struct {
	tke *tiktoken.Tiktoken
}

func (e *tiktokenEncoder) Encode(text string) []int {
	return e.tke.Encode(text, nil, nil)
}

func (e *tiktokenEncoder) Decode(tokens []int) string {
	return e.tke.Decode(tokens)
}

var setLoader sync.Once

func tiktokenLoader(encoding string) (Encoder, error) {
	// Ranks ship with the binary; never fetch them at runtime.
	setLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &tiktokenEncoder{tke: tke}, nil
}
