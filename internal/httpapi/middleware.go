package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/rezkam/fieldguide/internal/domain"
)

// Recorder receives admission events.
type Recorder interface {
	Log(ctx context.Context, action domain.Action, severity domain.Severity, body map[string]any) error
}

// payloadTooLargeJSON is pre-marshaled so the 413 can always be written.
const payloadTooLargeJSON = `{"error":"request body exceeds size limit"}`

// MaxBodyBytes limits request body size. The Content-Length header gives an
// early rejection; the body is then read under http.MaxBytesReader to catch
// chunked encoding and spoofed headers, and replaced for downstream handlers.
func MaxBodyBytes(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > 0 && r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				if _, err := w.Write([]byte(payloadTooLargeJSON)); err != nil {
					slog.ErrorContext(r.Context(), "failed to write payload too large response", "error", err)
				}
				return
			}

			body := http.MaxBytesReader(w, r.Body, maxBytes)
			buf, err := io.ReadAll(body)
			if err != nil {
				slog.WarnContext(r.Context(), "request body size limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"content_length", r.ContentLength,
					"limit", maxBytes,
					"error", err)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				if _, err := w.Write([]byte(payloadTooLargeJSON)); err != nil {
					slog.ErrorContext(r.Context(), "failed to write payload too large response", "error", err)
				}
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(buf))
			next.ServeHTTP(w, r)
		})
	}
}

// RecordRequests mirrors every request into the observer as an api-request
// event before it is handled. Recording failures are logged and the request
// proceeds; admission never depends on the event log being writable.
func RecordRequests(rec Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				logger.WarnContext(r.Context(), "failed to read request body", "error", err)
				raw = nil
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			query := map[string]any{}
			for k := range r.URL.Query() {
				query[k] = r.URL.Query().Get(k)
			}

			var body any
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &body); err != nil {
					body = string(raw)
				}
			}

			logger.InfoContext(r.Context(), "api request", "method", r.Method, "path", r.URL.Path)
			if rec != nil {
				event := map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  query,
					"body":   body,
				}
				if err := rec.Log(r.Context(), domain.ActionAPIRequest, domain.SeverityLog, event); err != nil {
					logger.WarnContext(r.Context(), "failed to record api request", "error", err)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
