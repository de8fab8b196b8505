package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krackai/backend/internal/reliability"
)

const transcribeInstruction = "Transcribe this audio file. Provide only the text without extra commentary."

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiTranscriber sends buffered audio inline to the Gemini
// generateContent endpoint and returns the recognized text.
type GeminiTranscriber struct {
	cfg    GeminiConfig
	client *http.Client
}

func NewGeminiTranscriber(cfg GeminiConfig) *GeminiTranscriber {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GeminiTranscriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	if strings.TrimSpace(mime) == "" {
		mime = "audio/webm"
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: transcribeInstruction},
				{InlineData: &geminiInlineData{
					MIMEType: mime,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	u, err := url.Parse(strings.TrimRight(t.cfg.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(t.cfg.Model) + ":generateContent")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("key", t.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(req)
	if err != nil {
		return "", reliability.NewProviderError("gemini", reliability.CategoryTransient, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", reliability.FromHTTPStatus("gemini", res.StatusCode,
			fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", reliability.NewProviderError("gemini", reliability.CategoryTransient, fmt.Errorf("decode response: %w", err))
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), nil
}
