// Package speech holds the provider-agnostic transcription contract used by
// the telephony bridge.
package speech

import "context"

type Kind string

const (
	KindPartial Kind = "partial"
	KindFinal   Kind = "final"
)

// Event is incremental transcription output. SpeechFinal marks the end of
// the caller's utterance.
type Event struct {
	Kind        Kind   `json:"kind"`
	Text        string `json:"text"`
	SpeechFinal bool   `json:"speech_final"`
}

// StreamConfig describes the audio the bridge will send.
type StreamConfig struct {
	Encoding       string
	SampleRate     int
	Channels       int
	InterimResults bool
}

// Session is one live transcription stream.
type Session interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan Event
	Wait() error
	Close() error
}

// Transcriber starts transcription sessions.
type Transcriber interface {
	StartStreaming(ctx context.Context, cfg StreamConfig) (Session, error)
}
