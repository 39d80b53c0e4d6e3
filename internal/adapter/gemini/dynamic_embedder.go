package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/option"

	"chunkforge/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// DynamicEmbedder reads the API key and model from settings on every call and
// rebuilds its client when either changes. FallbackKey is used when settings
// carry no key.
type DynamicEmbedder struct {
	settings    SettingsProvider
	fallbackKey string
	clientOpts  []option.ClientOption

	mu           sync.RWMutex
	current      *Embedder
	currentKey   string
	currentModel string
}

func NewDynamicEmbedder(svc SettingsProvider, fallbackKey string, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		settings:    svc,
		fallbackKey: fallbackKey,
		clientOpts:  opts,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s, err := e.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	key := s.GeminiAPIKey
	if key == "" {
		key = e.fallbackKey
	}
	if key == "" {
		return nil, ErrNoAPIKey
	}
	model := s.EmbeddingModel
	if model == "" {
		model = settings.DefaultEmbeddingModel
	}

	emb, err := e.embedder(ctx, key, model)
	if err != nil {
		return nil, err
	}
	return emb.Embed(ctx, text)
}

func (e *DynamicEmbedder) embedder(ctx context.Context, key, model string) (*Embedder, error) {
	e.mu.RLock()
	if e.current != nil && e.currentKey == key && e.currentModel == model {
		defer e.mu.RUnlock()
		return e.current, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if e.current != nil && e.currentKey == key && e.currentModel == model {
		return e.current, nil
	}

	if e.current != nil {
		if err := e.current.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	emb, err := NewEmbedder(ctx, key, model, e.clientOpts...)
	if err != nil {
		return nil, err
	}
	e.current, e.currentKey, e.currentModel = emb, key, model
	return emb, nil
}
