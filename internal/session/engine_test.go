package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/krackai/backend/internal/observability"
	"github.com/krackai/backend/internal/protocol"
	"github.com/krackai/backend/internal/reliability"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, f.err
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnswerer struct {
	mu          sync.Mutex
	calls       int
	lastContext string
	text        string
	err         error
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, contextText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastContext = contextText
	return f.text, f.err
}

func (f *fakeAnswerer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(tr Transcriber, ans Answerer) *Engine {
	metrics := observability.NewMetrics("test_engine_" + strings.ReplaceAll(uuid.NewString(), "-", "_"))
	return NewEngine(EngineConfig{
		MinAudioBytes:       4,
		SilenceSampleWindow: 16000,
		SilenceDeviation:    10,
		SilenceMinActive:    2,
		MaxQuestionChars:    2000,
		ProviderTimeout:     time.Second,
	}, tr, ans, nil, metrics)
}

func loudChunk(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 220
		} else {
			out[i] = 40
		}
	}
	return out
}

func drain(out chan any) []any {
	var msgs []any
	for {
		select {
		case m := <-out:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func handleAll(e *Engine, sess *Session, msgs ...any) []any {
	out := make(chan any, 64)
	for _, m := range msgs {
		e.handle(context.Background(), sess, m, out)
	}
	return drain(out)
}

func audioChunkMsg(chunk []byte) protocol.AudioChunk {
	return protocol.AudioChunk{
		Type:  protocol.TypeAudioChunk,
		Audio: base64.StdEncoding.EncodeToString(chunk),
	}
}

func TestEngineAppendsChunksAndAcks(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess, audioChunkMsg([]byte{1, 2, 3}), audioChunkMsg([]byte{4, 5}))
	if len(msgs) != 2 {
		t.Fatalf("got %d replies, want 2", len(msgs))
	}
	for _, m := range msgs {
		if _, ok := m.(protocol.ChunkReceived); !ok {
			t.Fatalf("reply = %T, want ChunkReceived", m)
		}
	}
	if sess.Buffer.Bytes() != 5 || sess.Buffer.Len() != 2 {
		t.Fatalf("buffer len=%d bytes=%d, want 2/5", sess.Buffer.Len(), sess.Buffer.Bytes())
	}
}

func TestEngineRejectsChunkOverLimitWithoutPartialAppend(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(2, 1024)

	msgs := handleAll(e, sess,
		audioChunkMsg([]byte{1}),
		audioChunkMsg([]byte{2}),
		audioChunkMsg([]byte{3}),
	)
	if len(msgs) != 3 {
		t.Fatalf("got %d replies, want 3", len(msgs))
	}
	errMsg, ok := msgs[2].(protocol.Error)
	if !ok {
		t.Fatalf("third reply = %T, want Error", msgs[2])
	}
	if !strings.Contains(errMsg.Message, "limit") {
		t.Fatalf("error message = %q", errMsg.Message)
	}
	if sess.Buffer.Len() != 2 || sess.Buffer.Bytes() != 2 {
		t.Fatalf("buffer changed on rejected append: len=%d bytes=%d", sess.Buffer.Len(), sess.Buffer.Bytes())
	}
}

func TestEngineRejectsUndecodableAudio(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess, protocol.AudioChunk{Type: protocol.TypeAudioChunk, Audio: "not base64!!"})
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.Error); !ok {
		t.Fatalf("reply = %T, want Error", msgs[0])
	}
	if sess.Buffer.Len() != 0 {
		t.Fatalf("buffer len = %d, want 0", sess.Buffer.Len())
	}
}

func TestEngineClear(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess, audioChunkMsg([]byte{1, 2}), protocol.Clear{Type: protocol.TypeClear})
	if _, ok := msgs[len(msgs)-1].(protocol.Cleared); !ok {
		t.Fatalf("last reply = %T, want Cleared", msgs[len(msgs)-1])
	}
	if sess.Buffer.Len() != 0 || sess.Buffer.Bytes() != 0 {
		t.Fatalf("buffer not cleared: len=%d bytes=%d", sess.Buffer.Len(), sess.Buffer.Bytes())
	}
}

func TestEngineTranscribeEmptyBufferNeverInvokesAdapter(t *testing.T) {
	tr := &fakeTranscriber{text: "hello"}
	e := newTestEngine(tr, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess, protocol.Transcribe{Type: protocol.TypeTranscribe})
	if tr.Calls() != 0 {
		t.Fatalf("transcriber calls = %d, want 0", tr.Calls())
	}
	errMsg, ok := msgs[0].(protocol.Error)
	if !ok {
		t.Fatalf("reply = %T, want Error", msgs[0])
	}
	if errMsg.Message != "no audio data received" {
		t.Fatalf("error message = %q", errMsg.Message)
	}
}

func TestEngineTranscribeOnlyEmitsOneTranscriptionAndClearsBuffer(t *testing.T) {
	tr := &fakeTranscriber{text: "hello world"}
	ans := &fakeAnswerer{}
	e := newTestEngine(tr, ans)
	sess := New(16, 4096)

	msgs := handleAll(e, sess,
		audioChunkMsg(loudChunk(64)),
		protocol.Transcribe{Type: protocol.TypeTranscribeOnly, TranscriptionOnly: true},
	)
	var transcriptions []protocol.Transcription
	for _, m := range msgs {
		if tm, ok := m.(protocol.Transcription); ok {
			transcriptions = append(transcriptions, tm)
		}
	}
	if len(transcriptions) != 1 {
		t.Fatalf("got %d transcription events, want 1", len(transcriptions))
	}
	if transcriptions[0].Text != "hello world" {
		t.Fatalf("text = %q, want %q", transcriptions[0].Text, "hello world")
	}
	if sess.Buffer.Bytes() != 0 {
		t.Fatalf("buffer bytes = %d, want 0 after transcription", sess.Buffer.Bytes())
	}
	if ans.Calls() != 0 {
		t.Fatalf("answerer calls = %d, want 0 for transcribe-only", ans.Calls())
	}
}

func TestEngineFullTurnAnswersDetectedQuestion(t *testing.T) {
	tr := &fakeTranscriber{text: "What is your greatest strength?"}
	ans := &fakeAnswerer{text: "My greatest strength is shipping."}
	e := newTestEngine(tr, ans)
	sess := New(16, 4096)

	msgs := handleAll(e, sess,
		audioChunkMsg(loudChunk(64)),
		protocol.Transcribe{Type: protocol.TypeTranscribe},
	)
	var qa *protocol.QAResponse
	for _, m := range msgs {
		if q, ok := m.(protocol.QAResponse); ok {
			qa = &q
		}
	}
	if qa == nil {
		t.Fatalf("no qa-response in %v", msgs)
	}
	if qa.Question != "What is your greatest strength?" || qa.Answer != "My greatest strength is shipping." {
		t.Fatalf("unexpected qa-response: %+v", qa)
	}
	if ans.Calls() != 1 {
		t.Fatalf("answerer calls = %d, want 1", ans.Calls())
	}
}

func TestEngineFullTurnSkipsNonQuestions(t *testing.T) {
	tr := &fakeTranscriber{text: "the weather was nice yesterday"}
	ans := &fakeAnswerer{}
	e := newTestEngine(tr, ans)
	sess := New(16, 4096)

	msgs := handleAll(e, sess,
		audioChunkMsg(loudChunk(64)),
		protocol.Transcribe{Type: protocol.TypeTranscribe},
	)
	if ans.Calls() != 0 {
		t.Fatalf("answerer calls = %d, want 0 for a non-question", ans.Calls())
	}
	sawNoQuestion := false
	for _, m := range msgs {
		if info, ok := m.(protocol.Info); ok && strings.Contains(info.Message, "No question") {
			sawNoQuestion = true
		}
	}
	if !sawNoQuestion {
		t.Fatalf("missing no-question info event in %v", msgs)
	}
}

func TestEngineShortAudioDiscardedQuietly(t *testing.T) {
	tr := &fakeTranscriber{text: "should not run"}
	e := newTestEngine(tr, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess,
		audioChunkMsg([]byte{200, 40}),
		protocol.Transcribe{Type: protocol.TypeTranscribe},
	)
	if tr.Calls() != 0 {
		t.Fatalf("transcriber calls = %d, want 0 for too-short audio", tr.Calls())
	}
	// Only the chunk ack; no error and no transcription.
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1: %v", len(msgs), msgs)
	}
	if sess.Buffer.Bytes() != 0 {
		t.Fatalf("buffer bytes = %d, want 0", sess.Buffer.Bytes())
	}
}

func TestEngineSilentAudioDiscardedQuietly(t *testing.T) {
	tr := &fakeTranscriber{text: "should not run"}
	e := newTestEngine(tr, &fakeAnswerer{})
	sess := New(16, 4096)

	silent := make([]byte, 64)
	for i := range silent {
		silent[i] = 128
	}
	msgs := handleAll(e, sess,
		audioChunkMsg(silent),
		protocol.Transcribe{Type: protocol.TypeTranscribe},
	)
	if tr.Calls() != 0 {
		t.Fatalf("transcriber calls = %d, want 0 for silent audio", tr.Calls())
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1: %v", len(msgs), msgs)
	}
	if sess.Buffer.Bytes() != 0 {
		t.Fatalf("buffer bytes = %d, want 0", sess.Buffer.Bytes())
	}
}

func TestEngineTranscribeFailureClearsBuffer(t *testing.T) {
	tr := &fakeTranscriber{err: reliability.NewProviderError("gemini", reliability.CategoryTransient, errors.New("boom"))}
	e := newTestEngine(tr, &fakeAnswerer{})
	sess := New(16, 4096)

	msgs := handleAll(e, sess,
		audioChunkMsg(loudChunk(64)),
		protocol.Transcribe{Type: protocol.TypeTranscribe},
	)
	sawError := false
	for _, m := range msgs {
		if _, ok := m.(protocol.Error); ok {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("missing error event in %v", msgs)
	}
	if sess.Buffer.Bytes() != 0 {
		t.Fatalf("buffer bytes = %d, want 0 after failed transcription", sess.Buffer.Bytes())
	}
}

func TestEngineGenerateAnswerValidation(t *testing.T) {
	ans := &fakeAnswerer{text: "x"}
	e := newTestEngine(&fakeTranscriber{}, ans)
	sess := New(16, 1024)

	oversized := strings.Repeat("a", 2001)
	msgs := handleAll(e, sess,
		protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: ""},
		protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: "   "},
		protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: oversized},
	)
	if ans.Calls() != 0 {
		t.Fatalf("answerer calls = %d, want 0 for invalid questions", ans.Calls())
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d replies, want 3", len(msgs))
	}
	for i, m := range msgs {
		if _, ok := m.(protocol.Error); !ok {
			t.Fatalf("reply %d = %T, want Error", i, m)
		}
	}
}

func TestEngineQuestionLengthCountsRunes(t *testing.T) {
	ans := &fakeAnswerer{text: "answer"}
	e := newTestEngine(&fakeTranscriber{}, ans)
	sess := New(16, 1024)

	// 1500 characters but 4500 bytes: still under the 2000-character cap.
	question := strings.Repeat("日", 1500)
	msgs := handleAll(e, sess, protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: question})
	if ans.Calls() != 1 {
		t.Fatalf("answerer calls = %d, want 1 for a 1500-character question", ans.Calls())
	}
	sawQA := false
	for _, m := range msgs {
		if _, ok := m.(protocol.QAResponse); ok {
			sawQA = true
		}
	}
	if !sawQA {
		t.Fatalf("missing qa-response in %v", msgs)
	}

	// 2001 characters is over the cap regardless of encoding width.
	msgs = handleAll(e, sess, protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: strings.Repeat("日", 2001)})
	if ans.Calls() != 1 {
		t.Fatalf("oversized question reached the answerer, calls = %d", ans.Calls())
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.Error); !ok {
		t.Fatalf("reply = %T, want Error", msgs[0])
	}
}

func TestEngineGenerateAnswerUsesSessionContext(t *testing.T) {
	ans := &fakeAnswerer{text: "grounded answer"}
	e := newTestEngine(&fakeTranscriber{}, ans)
	sess := New(16, 1024)

	msgs := handleAll(e, sess,
		protocol.SetContext{Type: protocol.TypeSetContext, ResumeText: "  staff engineer, 9 years  "},
		protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: "Why this role?"},
	)
	if _, ok := msgs[0].(protocol.ContextSet); !ok {
		t.Fatalf("first reply = %T, want ContextSet", msgs[0])
	}
	if ans.lastContext != "staff engineer, 9 years" {
		t.Fatalf("answerer context = %q", ans.lastContext)
	}
	var qa *protocol.QAResponse
	for _, m := range msgs {
		if q, ok := m.(protocol.QAResponse); ok {
			qa = &q
		}
	}
	if qa == nil || qa.Answer != "grounded answer" {
		t.Fatalf("missing qa-response in %v", msgs)
	}
}

func TestEngineGenerateAnswerFailureSurfacesShortMessage(t *testing.T) {
	ans := &fakeAnswerer{err: reliability.NewProviderError("openai", reliability.CategoryQuota, errors.New("429 raw body"))}
	e := newTestEngine(&fakeTranscriber{}, ans)
	sess := New(16, 1024)

	msgs := handleAll(e, sess, protocol.GenerateAnswer{Type: protocol.TypeGenerateAnswer, Transcription: "q?"})
	var errMsg *protocol.Error
	for _, m := range msgs {
		if em, ok := m.(protocol.Error); ok {
			errMsg = &em
		}
	}
	if errMsg == nil {
		t.Fatalf("missing error event in %v", msgs)
	}
	if strings.Contains(errMsg.Message, "429 raw body") {
		t.Fatalf("raw provider detail leaked to client: %q", errMsg.Message)
	}
}

func TestEngineUnsupportedMessage(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(16, 1024)

	msgs := handleAll(e, sess, struct{ Junk string }{"x"})
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.Error); !ok {
		t.Fatalf("reply = %T, want Error", msgs[0])
	}
}

func TestRunConnectionStopsWhenInboundCloses(t *testing.T) {
	e := newTestEngine(&fakeTranscriber{}, &fakeAnswerer{})
	sess := New(16, 1024)

	inbound := make(chan any, 4)
	outbound := make(chan any, 16)
	inbound <- audioChunkMsg([]byte{1, 2, 3})
	close(inbound)

	done := make(chan error, 1)
	go func() {
		done <- e.RunConnection(context.Background(), sess, inbound, outbound)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunConnection did not return after inbound close")
	}

	msgs := drain(outbound)
	if len(msgs) != 1 {
		t.Fatalf("got %d replies, want 1", len(msgs))
	}
	if _, ok := msgs[0].(protocol.ChunkReceived); !ok {
		t.Fatalf("reply = %T, want ChunkReceived", msgs[0])
	}
}

func TestLooksLikeQuestion(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"What motivates you?", true},
		{"tell me about a conflict", true},
		{"is this role remote", true},
		{"I enjoyed our conversation", false},
		{"the weather was nice", false},
		{"Anything else?", true},
	}
	for _, tc := range cases {
		if got := looksLikeQuestion(tc.text); got != tc.want {
			t.Fatalf("looksLikeQuestion(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
