package speech

import (
	"context"
	"io"
	"time"
)

// TranscriptionRequest carries one audio clip for speech-to-text.
type TranscriptionRequest struct {
	// Audio is the encoded audio stream. Required.
	Audio io.Reader `json:"-"`

	// Filename names the uploaded clip; backends use the extension to pick
	// a decoder. Defaults to "audio.mp3" when empty.
	Filename string `json:"filename,omitempty"`

	// Model optionally overrides the backend's default transcription model.
	Model string `json:"model,omitempty"`

	// Language is an optional ISO-639-1 hint (e.g. "en").
	Language string `json:"language,omitempty"`

	// Prompt optionally primes the recognizer with expected vocabulary.
	Prompt string `json:"prompt,omitempty"`

	// Temperature controls decoding randomness. Zero means backend default.
	Temperature float32 `json:"temperature,omitempty"`
}

// Segment is one timed span of recognized speech.
type Segment struct {
	ID    int           `json:"id"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Transcription is the recognized text for one clip.
type Transcription struct {
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Text      string        `json:"text"`
	Language  string        `json:"language,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Segments  []Segment     `json:"segments,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Transcriber converts audio to text. Implementations resolve credentials
// once at construction, the same way chat providers do.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) (*Transcription, error)

	// Name returns the backend name for logs and error envelopes.
	Name() string

	// SupportedFormats lists accepted audio container extensions.
	SupportedFormats() []string
}
