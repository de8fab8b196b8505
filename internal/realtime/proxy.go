package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/krackai/backend/internal/observability"
	"github.com/krackai/backend/internal/protocol"
	"github.com/krackai/backend/internal/session"
)

// Config selects the upstream realtime speech endpoint.
type Config struct {
	URL    string
	Model  string
	APIKey string
}

// Proxy is the streaming transcription strategy: it opens one upstream
// realtime session per client connection and relays audio up and
// transcript events down. It replaces the buffered engine entirely; the
// two strategies are alternative designs, not layers.
type Proxy struct {
	cfg     Config
	metrics *observability.Metrics
}

func NewProxy(cfg Config, metrics *observability.Metrics) *Proxy {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	return &Proxy{cfg: cfg, metrics: metrics}
}

type sessionUpdate struct {
	Type    string          `json:"type"`
	Session realtimeSession `json:"session"`
}

type realtimeSession struct {
	TurnDetection           turnDetection      `json:"turn_detection"`
	InputAudioTranscription transcriptionModel `json:"input_audio_transcription"`
	InputAudioFormat        string             `json:"input_audio_format"`
	Modalities              []string           `json:"modalities"`
}

type turnDetection struct {
	Type              string `json:"type"`
	SilenceDurationMS int    `json:"silence_duration_ms"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type upstreamEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RunConnection proxies one client session against a fresh upstream
// realtime connection. It returns when the client disconnects (inbound
// closes), the context ends, or the upstream goes away.
func (p *Proxy) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		p.send(ctx, outbound, protocol.NewError("transcription service unavailable"))
		return fmt.Errorf("dial realtime upstream: %w", err)
	}
	defer conn.Close()

	update := sessionUpdate{
		Type: "session.update",
		Session: realtimeSession{
			TurnDetection:           turnDetection{Type: "server_vad", SilenceDurationMS: 800},
			InputAudioTranscription: transcriptionModel{Model: "gpt-4o-mini-transcribe"},
			InputAudioFormat:        "pcm16",
			Modalities:              []string{"text"},
		},
	}
	if err := conn.WriteJSON(update); err != nil {
		return fmt.Errorf("configure realtime session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		p.relayUpstream(runCtx, sess, conn, outbound)
	}()

	for {
		select {
		case <-runCtx.Done():
			<-readerDone
			return nil
		case msg, ok := <-inbound:
			if !ok {
				// Client is gone; closing the upstream unblocks the reader.
				_ = conn.Close()
				<-readerDone
				return nil
			}
			p.handle(runCtx, msg, conn, outbound)
		}
	}
}

func (p *Proxy) handle(ctx context.Context, msg any, conn *websocket.Conn, outbound chan<- any) {
	switch m := msg.(type) {
	case protocol.AudioChunk:
		chunk, err := base64.StdEncoding.DecodeString(m.Audio)
		if err != nil {
			p.send(ctx, outbound, protocol.NewError("invalid audio encoding"))
			return
		}
		frame := audioAppend{
			Type:  "input_audio_buffer.append",
			Audio: base64.StdEncoding.EncodeToString(chunk),
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("realtime: forward audio failed: %v", err)
			p.send(ctx, outbound, protocol.NewError("transcription stream interrupted"))
		}
	default:
		// The streaming strategy has no buffer to transcribe or clear.
		p.send(ctx, outbound, protocol.NewError("unsupported message in realtime mode"))
	}
}

func (p *Proxy) relayUpstream(ctx context.Context, sess *session.Session, conn *websocket.Conn, outbound chan<- any) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("session %s: realtime upstream closed: %v", sess.ID, err)
			}
			return
		}

		var event upstreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Printf("session %s: bad upstream event: %v", sess.ID, err)
			continue
		}

		switch event.Type {
		case "conversation.item.input_audio_transcription.delta":
			p.send(ctx, outbound, protocol.NewTranscriptionDelta(event.Delta))
		case "conversation.item.input_audio_transcription.completed":
			p.metrics.SessionEvents.WithLabelValues("transcription_completed").Inc()
			p.send(ctx, outbound, protocol.NewTranscription(event.Transcript))
		case "error":
			message := "Transcription error"
			if event.Error != nil && strings.TrimSpace(event.Error.Message) != "" {
				message = event.Error.Message
			}
			p.metrics.ProviderErrors.WithLabelValues("realtime", "upstream").Inc()
			p.send(ctx, outbound, protocol.NewError(message))
		}
	}
}

func (p *Proxy) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}
