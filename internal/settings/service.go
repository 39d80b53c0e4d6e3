package settings

import (
	"context"
	"strings"
)

const DefaultEmbeddingModel = "gemini-embedding-001"

type Settings struct {
	ID             int    `json:"-"`
	GeminiAPIKey   string `json:"gemini_api_key"`
	EmbeddingModel string `json:"embedding_model"`
}

// Masked returns a copy safe to send to clients.
func (s Settings) Masked() Settings {
	if n := len(s.GeminiAPIKey); n > 4 {
		s.GeminiAPIKey = strings.Repeat("*", n-4) + s.GeminiAPIKey[n-4:]
	} else if n > 0 {
		s.GeminiAPIKey = "****"
	}
	return s
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	set, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if set.EmbeddingModel == "" {
		set.EmbeddingModel = DefaultEmbeddingModel
	}
	return set, nil
}

// Update stores set. A masked key, as returned by Masked, leaves the stored
// key unchanged.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	set.GeminiAPIKey = strings.TrimSpace(set.GeminiAPIKey)
	if strings.HasPrefix(set.GeminiAPIKey, "*") {
		current, err := s.repo.Get(ctx)
		if err != nil {
			return err
		}
		set.GeminiAPIKey = current.GeminiAPIKey
	}
	if set.EmbeddingModel == "" {
		set.EmbeddingModel = DefaultEmbeddingModel
	}
	return s.repo.Update(ctx, set)
}
