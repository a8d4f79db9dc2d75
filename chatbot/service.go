package chatbot

import (
	"context"
	"sync"
	"time"

	"github.com/YuminosukeSato/exoml/pkg/errors"
	"github.com/YuminosukeSato/exoml/pkg/log"
)

// Service answers chat messages with the active system prompt.
type Service struct {
	llm         LLMClient
	prompts     *PromptManager
	active      string
	temperature float64
	logger      log.Logger

	mu     sync.RWMutex
	system string
}

// NewService loads the active prompt, falling back to exoplanet_expert when
// it does not exist.
func NewService(llm LLMClient, prompts *PromptManager, active string, temperature float64) (*Service, error) {
	s := &Service{
		llm:         llm,
		prompts:     prompts,
		active:      active,
		temperature: temperature,
		logger:      log.GetLoggerWithName("chatbot"),
	}
	system, err := s.loadPrompt(prompts.Load)
	if err != nil {
		return nil, err
	}
	s.system = system
	return s, nil
}

func (s *Service) loadPrompt(load func(string) (string, error)) (string, error) {
	p, err := load(s.active)
	if err == nil {
		return p, nil
	}
	if s.active == DefaultActivePrompt {
		return "", err
	}
	s.logger.Warn("prompt not found, using default",
		"prompt", s.active,
		log.ErrorTypeKey, err.Error(),
	)
	return s.prompts.Load(DefaultActivePrompt)
}

// SystemPrompt returns the prompt sent with every message.
func (s *Service) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.system
}

// ReloadPrompt re-reads the active prompt from disk.
func (s *Service) ReloadPrompt() error {
	p, err := s.loadPrompt(s.prompts.Reload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.system = p
	s.mu.Unlock()
	return nil
}

// Respond sends message to the model.
func (s *Service) Respond(ctx context.Context, message string) (string, error) {
	start := time.Now()
	out, err := s.llm.Complete(ctx, LLMRequest{
		System:      s.SystemPrompt(),
		Message:     message,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "error generating response")
	}
	s.logger.Debug("chat answered",
		log.DurationMsKey, time.Since(start).Milliseconds(),
		"chars", len(out),
	)
	return out, nil
}
