package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudioChunk     MessageType = "audio-chunk"
	TypeTranscribe     MessageType = "transcribe"
	TypeTranscribeOnly MessageType = "transcribe-only"
	TypeGenerateAnswer MessageType = "generate-answer"
	TypeClear          MessageType = "clear"
	TypeSetContext     MessageType = "set-context"

	TypeChunkReceived      MessageType = "chunk-received"
	TypeCleared            MessageType = "cleared"
	TypeContextSet         MessageType = "context-set"
	TypeInfo               MessageType = "info"
	TypeTranscription      MessageType = "transcription"
	TypeTranscriptionDelta MessageType = "transcription-delta"
	TypeQAResponse         MessageType = "qa-response"
	TypeError              MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Inbound messages.

type AudioChunk struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

type Transcribe struct {
	Type MessageType `json:"type"`
	// TranscriptionOnly stops the turn after the transcription event
	// instead of continuing into answer generation.
	TranscriptionOnly bool `json:"-"`
}

type GenerateAnswer struct {
	Type          MessageType `json:"type"`
	Transcription string      `json:"transcription"`
}

type Clear struct {
	Type MessageType `json:"type"`
}

type SetContext struct {
	Type       MessageType `json:"type"`
	ResumeText string      `json:"resumeText"`
}

// Outbound messages.

type ChunkReceived struct {
	Type MessageType `json:"type"`
}

type Cleared struct {
	Type MessageType `json:"type"`
}

type ContextSet struct {
	Type MessageType `json:"type"`
}

type Info struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Transcription struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type TranscriptionDelta struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type QAResponse struct {
	Type     MessageType `json:"type"`
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewChunkReceived() ChunkReceived { return ChunkReceived{Type: TypeChunkReceived} }
func NewCleared() Cleared             { return Cleared{Type: TypeCleared} }
func NewContextSet() ContextSet       { return ContextSet{Type: TypeContextSet} }

func NewInfo(message string) Info {
	return Info{Type: TypeInfo, Message: message}
}

func NewTranscription(text string) Transcription {
	return Transcription{Type: TypeTranscription, Text: text}
}

func NewTranscriptionDelta(text string) TranscriptionDelta {
	return TranscriptionDelta{Type: TypeTranscriptionDelta, Text: text}
}

func NewQAResponse(question, answer string) QAResponse {
	return QAResponse{Type: TypeQAResponse, Question: question, Answer: answer}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// ParseClientMessage decodes one inbound frame into its typed form.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Audio == "" {
			return nil, errors.New("audio-chunk requires a non-empty audio field")
		}
		return msg, nil
	case TypeTranscribe:
		return Transcribe{Type: env.Type}, nil
	case TypeTranscribeOnly:
		return Transcribe{Type: env.Type, TranscriptionOnly: true}, nil
	case TypeGenerateAnswer:
		var msg GenerateAnswer
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClear:
		return Clear{Type: env.Type}, nil
	case TypeSetContext:
		var msg SetContext
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a known message value.
func TypeOf(msg any) (MessageType, bool) {
	switch m := msg.(type) {
	case AudioChunk:
		return m.Type, true
	case Transcribe:
		return m.Type, true
	case GenerateAnswer:
		return m.Type, true
	case Clear:
		return m.Type, true
	case SetContext:
		return m.Type, true
	case ChunkReceived:
		return m.Type, true
	case Cleared:
		return m.Type, true
	case ContextSet:
		return m.Type, true
	case Info:
		return m.Type, true
	case Transcription:
		return m.Type, true
	case TranscriptionDelta:
		return m.Type, true
	case QAResponse:
		return m.Type, true
	case Error:
		return m.Type, true
	default:
		return "", false
	}
}
