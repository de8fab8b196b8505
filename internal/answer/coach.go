package answer

import (
	"context"
	"strings"
	"time"

	"github.com/krackai/backend/internal/reliability"
)

// Generator turns an assembled prompt into answer text. Implementations
// wrap one vendor and classify their failures as reliability.ProviderError.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// CoachConfig carries the retry policy for answer generation.
type CoachConfig struct {
	// Attempts is the total attempt budget, first try included.
	Attempts int
	// BackoffUnit scales the linear backoff: the wait before retry n is
	// n times this unit.
	BackoffUnit time.Duration
	// AttemptTimeout bounds each individual provider call.
	AttemptTimeout time.Duration
}

// Coach wraps a Generator with prompt assembly and bounded retry.
// Terminal failures (bad credentials, malformed requests, empty results)
// surface immediately; quota and transient failures are retried up to
// the budget with increasing backoff.
type Coach struct {
	gen Generator
	cfg CoachConfig
}

func NewCoach(gen Generator, cfg CoachConfig) *Coach {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 45 * time.Second
	}
	return &Coach{gen: gen, cfg: cfg}
}

func (c *Coach) Answer(ctx context.Context, question, contextText string) (string, error) {
	prompt := BuildPrompt(question, contextText)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			wait := reliability.LinearBackoff(attempt-1, c.cfg.BackoffUnit)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", reliability.Classify("answer", ctx.Err())
			case <-timer.C:
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		text, err := c.gen.Generate(callCtx, prompt)
		cancel()
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", reliability.NewProviderError("answer", reliability.CategoryEmptyResult, nil)
			}
			return text, nil
		}

		pe := reliability.Classify("answer", err)
		if !reliability.IsRetryable(pe) {
			return "", pe
		}
		lastErr = pe

		if ctx.Err() != nil {
			return "", reliability.Classify("answer", ctx.Err())
		}
	}
	return "", lastErr
}
