package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview copilot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// TranscriberProvider selects the transcription strategy: "gemini"
	// (buffered), "realtime" (upstream streaming proxy), "mock", or "auto".
	TranscriberProvider string
	// AnswerProvider selects the generation backend: "openai", "ark",
	// "mock", or "auto".
	AnswerProvider string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	OpenAIRealtimeURL   string
	OpenAIRealtimeModel string

	ArkAPIKey  string
	ArkBaseURL string
	ArkModel   string

	MaxAudioChunks   int
	MaxBufferedBytes int
	MinAudioBytes    int

	SilenceSampleWindow int
	SilenceDeviation    int
	SilenceMinActive    int

	MaxQuestionChars int

	ProviderTimeout     time.Duration
	AnswerRetryAttempts int
	AnswerBackoffUnit   time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "krackai"),
		AllowAnyOrigin:      false,
		TranscriberProvider: envOrDefault("TRANSCRIBER_PROVIDER", "auto"),
		AnswerProvider:      envOrDefault("ANSWER_PROVIDER", "auto"),
		GeminiBaseURL:       envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:         envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIBaseURL:       envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIRealtimeURL:   envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		ArkBaseURL:          envOrDefault("ARK_BASE_URL", ""),
		ArkModel:            envOrDefault("ARK_MODEL", ""),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		ArkAPIKey:           stringsTrimSpace("ARK_API_KEY"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		MaxAudioChunks:      512,
		MaxBufferedBytes:    10 << 20,
		MinAudioBytes:       8000,
		SilenceSampleWindow: 16000,
		SilenceDeviation:    10,
		SilenceMinActive:    100,
		MaxQuestionChars:    2000,
		ProviderTimeout:     45 * time.Second,
		AnswerRetryAttempts: 3,
		AnswerBackoffUnit:   500 * time.Millisecond,
		ShutdownTimeout:     15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AnswerBackoffUnit, err = durationFromEnv("ANSWER_BACKOFF_UNIT", cfg.AnswerBackoffUnit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAudioChunks, err = intFromEnv("MAX_AUDIO_CHUNKS", cfg.MaxAudioChunks)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBufferedBytes, err = intFromEnv("MAX_BUFFERED_BYTES", cfg.MaxBufferedBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.MinAudioBytes, err = intFromEnv("MIN_AUDIO_BYTES", cfg.MinAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceSampleWindow, err = intFromEnv("SILENCE_SAMPLE_WINDOW", cfg.SilenceSampleWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDeviation, err = intFromEnv("SILENCE_DEVIATION", cfg.SilenceDeviation)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceMinActive, err = intFromEnv("SILENCE_MIN_ACTIVE", cfg.SilenceMinActive)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxQuestionChars, err = intFromEnv("MAX_QUESTION_CHARS", cfg.MaxQuestionChars)
	if err != nil {
		return Config{}, err
	}
	cfg.AnswerRetryAttempts, err = intFromEnv("ANSWER_RETRY_ATTEMPTS", cfg.AnswerRetryAttempts)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxAudioChunks <= 0 {
		return Config{}, fmt.Errorf("MAX_AUDIO_CHUNKS must be positive")
	}
	if cfg.MaxBufferedBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_BUFFERED_BYTES must be positive")
	}
	if cfg.MinAudioBytes < 0 {
		return Config{}, fmt.Errorf("MIN_AUDIO_BYTES must be >= 0")
	}
	if cfg.MaxQuestionChars <= 0 {
		return Config{}, fmt.Errorf("MAX_QUESTION_CHARS must be positive")
	}
	if cfg.AnswerRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("ANSWER_RETRY_ATTEMPTS must be positive")
	}
	if cfg.ProviderTimeout < time.Second {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
