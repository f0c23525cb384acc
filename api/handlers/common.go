package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/askflow/types"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies. An ask payload with an inline base64
// image stays well under this.
const maxBodyBytes = 1 << 20

// Response is the uniform JSON envelope for non-streaming endpoints.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the wire form of a gateway error inside the envelope.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	HTTPStatus int `json:"-"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// Encoding failures after the header is out cannot be reported to the
	// client anymore.
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes data wrapped in the success envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes a structured error in the envelope, mapping the error
// code to an HTTP status unless the error pins one explicitly.
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			Provider:   err.Provider,
			Retryable:  err.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage writes a one-off error with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// mapErrorCodeToHTTPStatus maps gateway error codes onto HTTP statuses.
// Client mistakes land in 4xx; provider and gateway failures in 5xx.
func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrEmptyInput, types.ErrInvalidRequest, types.ErrUnsupportedCapability:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrUnsupportedProvider, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited, types.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrMissingCredential, types.ErrProviderDisabled, types.ErrModelOverloaded:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrRetrievalTransport, types.ErrStreamTransport, types.ErrMalformedChunk:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes the request body into dst in strict mode: unknown
// fields are rejected and the body is capped at maxBodyBytes. On failure the
// error response has already been written.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType requires an application/json body. Charset parameters
// are accepted. On failure the error response has already been written.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	contentType := r.Header.Get("Content-Type")
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mediaType != "application/json" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json"), logger)
		return false
	}
	return true
}

// ResponseWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics. The first WriteHeader wins.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w with status capture.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader records the status code once and forwards it.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write marks the response as written and forwards the bytes.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer so SSE streaming keeps working
// through wrapped writers.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
