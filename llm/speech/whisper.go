package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/askflow/credentials"
	"github.com/BaSui01/askflow/internal/tlsutil"
	"github.com/BaSui01/askflow/llm/providers"
)

// WhisperConfig configures the OpenAI Whisper transcriber.
type WhisperConfig struct {
	// BaseURL defaults to the public OpenAI endpoint.
	BaseURL string

	// Model defaults to "whisper-1".
	Model string

	// Timeout bounds one transcription exchange. Defaults to 120s; audio
	// uploads are slow compared to chat calls.
	Timeout time.Duration
}

// Whisper transcribes audio through the OpenAI Whisper API.
type Whisper struct {
	cfg    WhisperConfig
	creds  credentials.ResolvedCredentials
	client *http.Client
	logger *zap.Logger
}

// NewWhisper creates a Whisper transcriber with fixed credentials.
func NewWhisper(cfg WhisperConfig, creds credentials.ResolvedCredentials, logger *zap.Logger) *Whisper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Whisper{
		cfg:    cfg,
		creds:  creds,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "whisper")),
	}
}

// Name returns the backend name.
func (w *Whisper) Name() string { return "openai-stt" }

// SupportedFormats lists the audio containers Whisper accepts.
func (w *Whisper) SupportedFormats() []string {
	return []string{"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm"}
}

// whisperResponse is the verbose_json wire shape.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments,omitempty"`
}

// Transcribe uploads one clip and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, req *TranscriptionRequest) (*Transcription, error) {
	if req == nil || req.Audio == nil {
		return nil, fmt.Errorf("audio input is required")
	}

	model := req.Model
	if model == "" {
		model = w.cfg.Model
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.mp3"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("copy audio: %w", err)
	}

	_ = writer.WriteField("model", model)
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	if req.Prompt != "" {
		_ = writer.WriteField("prompt", req.Prompt)
	}
	_ = writer.WriteField("response_format", "verbose_json")
	if req.Temperature > 0 {
		_ = writer.WriteField("temperature", fmt.Sprintf("%g", req.Temperature))
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(w.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+w.creds.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, w.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, w.Name())
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, providers.DecodeError(err, w.Name())
	}

	result := &Transcription{
		Provider:  w.Name(),
		Model:     model,
		Text:      wResp.Text,
		Language:  wResp.Language,
		Duration:  time.Duration(wResp.Duration * float64(time.Second)),
		CreatedAt: time.Now(),
	}
	for _, s := range wResp.Segments {
		result.Segments = append(result.Segments, Segment{
			ID:    s.ID,
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  s.Text,
		})
	}

	w.logger.Debug("transcription complete",
		zap.String("model", model),
		zap.Int("chars", len(result.Text)),
		zap.Duration("audio_duration", result.Duration))
	return result, nil
}
