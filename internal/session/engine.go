package session

import (
	"context"
	"encoding/base64"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/krackai/backend/internal/observability"
	"github.com/krackai/backend/internal/protocol"
	"github.com/krackai/backend/internal/reliability"
	"github.com/krackai/backend/internal/transcript"
)

// Transcriber turns buffered audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// Answerer produces a coached spoken answer for an interview question,
// optionally grounded on the session's resume/job-description context.
type Answerer interface {
	Answer(ctx context.Context, question, contextText string) (string, error)
}

// EngineConfig carries the buffered-pipeline tunables.
type EngineConfig struct {
	MinAudioBytes       int
	SilenceSampleWindow int
	SilenceDeviation    int
	SilenceMinActive    int
	MaxQuestionChars    int
	ProviderTimeout     time.Duration
	AudioMIME           string
}

// Engine is the buffered session protocol engine: it interprets one
// inbound message at a time per session and drives the transcription and
// answer pipelines. Messages for a session are handled strictly in
// arrival order; while a provider call is in flight, later messages for
// the same session queue behind it.
type Engine struct {
	cfg         EngineConfig
	transcriber Transcriber
	answerer    Answerer
	transcripts transcript.Store
	metrics     *observability.Metrics
}

func NewEngine(cfg EngineConfig, transcriber Transcriber, answerer Answerer, transcripts transcript.Store, metrics *observability.Metrics) *Engine {
	if cfg.AudioMIME == "" {
		cfg.AudioMIME = "audio/webm"
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 45 * time.Second
	}
	return &Engine{
		cfg:         cfg,
		transcriber: transcriber,
		answerer:    answerer,
		transcripts: transcripts,
		metrics:     metrics,
	}
}

// RunConnection consumes inbound messages for one session until the
// channel closes or the context ends. All session state dies with the
// connection; the caller removes the session from its registry.
func (e *Engine) RunConnection(ctx context.Context, sess *Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			e.handle(ctx, sess, msg, outbound)
		}
	}
}

func (e *Engine) handle(ctx context.Context, sess *Session, msg any, outbound chan<- any) {
	switch m := msg.(type) {
	case protocol.AudioChunk:
		e.handleAudioChunk(ctx, sess, m, outbound)
	case protocol.Transcribe:
		e.handleTranscribe(ctx, sess, m, outbound)
	case protocol.GenerateAnswer:
		e.handleGenerateAnswer(ctx, sess, m, outbound)
	case protocol.Clear:
		sess.Buffer.Clear()
		e.send(ctx, outbound, protocol.NewCleared())
	case protocol.SetContext:
		sess.SetContext(m.ResumeText)
		e.send(ctx, outbound, protocol.NewContextSet())
	default:
		e.send(ctx, outbound, protocol.NewError("unsupported message"))
	}
}

func (e *Engine) handleAudioChunk(ctx context.Context, sess *Session, m protocol.AudioChunk, outbound chan<- any) {
	chunk, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		e.send(ctx, outbound, protocol.NewError("invalid audio encoding"))
		return
	}
	if err := sess.Buffer.Append(chunk); err != nil {
		e.metrics.SessionEvents.WithLabelValues("limit_rejected").Inc()
		e.send(ctx, outbound, protocol.NewError("audio buffer limit exceeded"))
		return
	}
	e.send(ctx, outbound, protocol.NewChunkReceived())
}

func (e *Engine) handleTranscribe(ctx context.Context, sess *Session, m protocol.Transcribe, outbound chan<- any) {
	if sess.Buffer.Len() == 0 {
		e.send(ctx, outbound, protocol.NewError("no audio data received"))
		return
	}

	audio := sess.Buffer.Concat()
	// Audio is volatile working state: every attempt, successful or not,
	// resets to a clean buffer so stale audio cannot leak into the next
	// turn.
	sess.Buffer.Clear()

	if len(audio) < e.cfg.MinAudioBytes {
		e.metrics.SessionEvents.WithLabelValues("silence_discarded").Inc()
		return
	}
	if looksSilent(audio, e.cfg.SilenceSampleWindow, e.cfg.SilenceDeviation, e.cfg.SilenceMinActive) {
		e.metrics.SessionEvents.WithLabelValues("silence_discarded").Inc()
		return
	}

	e.send(ctx, outbound, protocol.NewInfo("Transcribing audio..."))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	start := time.Now()
	text, err := e.transcriber.Transcribe(callCtx, audio, e.cfg.AudioMIME)
	cancel()
	if err != nil {
		pe := reliability.Classify("transcriber", err)
		log.Printf("session %s: transcription failed: %v", sess.ID, pe)
		e.metrics.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Category)).Inc()
		e.send(ctx, outbound, protocol.NewError("transcription failed"))
		return
	}
	e.metrics.ObserveTranscriptionLatency(time.Since(start))

	text = strings.TrimSpace(text)
	if text == "" {
		// Recognizer heard nothing. Treated as silence.
		e.metrics.SessionEvents.WithLabelValues("silence_discarded").Inc()
		return
	}

	e.metrics.SessionEvents.WithLabelValues("transcription_completed").Inc()
	e.send(ctx, outbound, protocol.NewTranscription(text))

	if m.TranscriptionOnly {
		return
	}
	if !looksLikeQuestion(text) {
		e.send(ctx, outbound, protocol.NewInfo("No question detected in the transcription."))
		return
	}
	e.send(ctx, outbound, protocol.NewInfo("Detected a question. Fetching answer..."))
	e.answerTurn(ctx, sess, text, outbound)
}

func (e *Engine) handleGenerateAnswer(ctx context.Context, sess *Session, m protocol.GenerateAnswer, outbound chan<- any) {
	question := strings.TrimSpace(m.Transcription)
	if question == "" {
		e.send(ctx, outbound, protocol.NewError("no question provided"))
		return
	}
	if utf8.RuneCountInString(question) > e.cfg.MaxQuestionChars {
		e.send(ctx, outbound, protocol.NewError("question is too long"))
		return
	}
	e.send(ctx, outbound, protocol.NewInfo("Generating answer..."))
	e.answerTurn(ctx, sess, question, outbound)
}

func (e *Engine) answerTurn(ctx context.Context, sess *Session, question string, outbound chan<- any) {
	start := time.Now()
	answer, err := e.answerer.Answer(ctx, question, sess.Context())
	if err != nil {
		pe := reliability.Classify("answerer", err)
		log.Printf("session %s: answer generation failed: %v", sess.ID, pe)
		e.metrics.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Category)).Inc()
		e.send(ctx, outbound, protocol.NewError(pe.UserMessage()))
		return
	}
	e.metrics.ObserveAnswerLatency(time.Since(start))
	e.metrics.SessionEvents.WithLabelValues("turn_completed").Inc()

	e.send(ctx, outbound, protocol.NewQAResponse(question, answer))
	// A turn is complete; any audio buffered meanwhile belongs to it.
	sess.Buffer.Clear()

	if e.transcripts != nil {
		if err := e.transcripts.SaveTurn(ctx, transcript.TurnRecord{
			SessionID: sess.ID,
			Question:  question,
			Answer:    answer,
		}); err != nil {
			log.Printf("session %s: transcript save failed: %v", sess.ID, err)
		}
	}
}

func (e *Engine) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

var questionLead = regexp.MustCompile(`(?i)^(who|what|when|where|why|how|is|are|can|could|would|should|do|does|did|tell|describe|explain|walk)\b`)

// looksLikeQuestion is the cheap heuristic the full-turn transcribe path
// uses to decide whether to fetch an answer.
func looksLikeQuestion(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, "?") || questionLead.MatchString(t)
}
