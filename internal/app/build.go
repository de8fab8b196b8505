package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/krackai/backend/internal/answer"
	"github.com/krackai/backend/internal/config"
	"github.com/krackai/backend/internal/httpapi"
	"github.com/krackai/backend/internal/observability"
	"github.com/krackai/backend/internal/realtime"
	"github.com/krackai/backend/internal/session"
	"github.com/krackai/backend/internal/transcribe"
	"github.com/krackai/backend/internal/transcript"
)

type ProviderInfo struct {
	Transcriber string
	Answerer    string
	Detail      string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Registry  *session.Registry
	Metrics   *observability.Metrics
	Providers ProviderInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build wires configuration into a ready-to-serve API. The transcriber
// choice decides the whole connection strategy: "realtime" swaps the
// buffered engine for the streaming proxy, all other values keep the
// buffered protocol.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	answerer, answerName, err := resolveAnswerer(ctx, cfg)
	if err != nil {
		_ = transcripts.Close()
		return nil, err
	}

	registry := session.NewRegistry()

	runner, transcriberName, err := resolveRunner(cfg, answerer, transcripts, metrics)
	if err != nil {
		_ = transcripts.Close()
		return nil, err
	}

	api := httpapi.New(cfg, registry, runner, transcripts, metrics)

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: registry,
		Metrics:  metrics,
		Providers: ProviderInfo{
			Transcriber: transcriberName,
			Answerer:    answerName,
			Detail:      fmt.Sprintf("transcriber=%s answerer=%s", transcriberName, answerName),
		},
		Cleanup: transcripts.Close,
	}, nil
}

func resolveRunner(cfg config.Config, answerer session.Answerer, transcripts transcript.Store, metrics *observability.Metrics) (httpapi.Runner, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TranscriberProvider))

	if mode == "realtime" {
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("TRANSCRIBER_PROVIDER=realtime requires OPENAI_API_KEY")
		}
		proxy := realtime.NewProxy(realtime.Config{
			URL:    cfg.OpenAIRealtimeURL,
			Model:  cfg.OpenAIRealtimeModel,
			APIKey: cfg.OpenAIAPIKey,
		}, metrics)
		return proxy, "realtime", nil
	}

	transcriber, name, err := resolveTranscriber(cfg)
	if err != nil {
		return nil, "", err
	}
	engine := session.NewEngine(session.EngineConfig{
		MinAudioBytes:       cfg.MinAudioBytes,
		SilenceSampleWindow: cfg.SilenceSampleWindow,
		SilenceDeviation:    cfg.SilenceDeviation,
		SilenceMinActive:    cfg.SilenceMinActive,
		MaxQuestionChars:    cfg.MaxQuestionChars,
		ProviderTimeout:     cfg.ProviderTimeout,
	}, transcriber, answerer, transcripts, metrics)
	return engine, name, nil
}

func resolveTranscriber(cfg config.Config) (session.Transcriber, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.TranscriberProvider))
	switch mode {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, "", fmt.Errorf("TRANSCRIBER_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return newGemini(cfg), "gemini", nil
	case "mock":
		return transcribe.NewMockTranscriber(), "mock", nil
	case "auto", "":
		if cfg.GeminiAPIKey != "" {
			return newGemini(cfg), "gemini", nil
		}
		return transcribe.NewMockTranscriber(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown TRANSCRIBER_PROVIDER %q", cfg.TranscriberProvider)
	}
}

func newGemini(cfg config.Config) *transcribe.GeminiTranscriber {
	return transcribe.NewGeminiTranscriber(transcribe.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	})
}

func resolveAnswerer(ctx context.Context, cfg config.Config) (session.Answerer, string, error) {
	gen, name, err := resolveGenerator(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	coach := answer.NewCoach(gen, answer.CoachConfig{
		Attempts:       cfg.AnswerRetryAttempts,
		BackoffUnit:    cfg.AnswerBackoffUnit,
		AttemptTimeout: cfg.ProviderTimeout,
	})
	return coach, name, nil
}

func resolveGenerator(ctx context.Context, cfg config.Config) (answer.Generator, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.AnswerProvider))
	switch mode {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("ANSWER_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return newOpenAI(cfg), "openai", nil
	case "ark":
		gen, err := answer.NewArkGenerator(ctx, answer.ArkConfig{
			APIKey:  cfg.ArkAPIKey,
			BaseURL: cfg.ArkBaseURL,
			Model:   cfg.ArkModel,
		})
		if err != nil {
			return nil, "", fmt.Errorf("ANSWER_PROVIDER=ark: %w", err)
		}
		return gen, "ark", nil
	case "mock":
		return answer.NewMockGenerator(), "mock", nil
	case "auto", "":
		if cfg.OpenAIAPIKey != "" {
			return newOpenAI(cfg), "openai", nil
		}
		if cfg.ArkAPIKey != "" && cfg.ArkModel != "" {
			gen, err := answer.NewArkGenerator(ctx, answer.ArkConfig{
				APIKey:  cfg.ArkAPIKey,
				BaseURL: cfg.ArkBaseURL,
				Model:   cfg.ArkModel,
			})
			if err != nil {
				return nil, "", err
			}
			return gen, "ark", nil
		}
		return answer.NewMockGenerator(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unknown ANSWER_PROVIDER %q", cfg.AnswerProvider)
	}
}

func newOpenAI(cfg config.Config) *answer.OpenAIGenerator {
	return answer.NewOpenAIGenerator(answer.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
}
