package worker

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vocguru/internal/collector"
	"github.com/thebtf/vocguru/internal/synthesis"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a 200 JSON response.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, synthesis.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, synthesis.ErrInvalidArgument), errors.Is(err, collector.ErrEmptyContent):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, synthesis.ErrExtractorTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, synthesis.ErrExtractorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the mapped status.
// Internal error text is not exposed to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reqID := GetRequestID(r.Context())
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", reqID).
			Str("path", r.URL.Path).
			Msg("Request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSONStatus(w, status, errorResponse{Error: msg, RequestID: reqID})
}

// badRequest reports a malformed request.
func badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	writeError(w, r, fmt.Errorf("%w: "+format, append([]any{synthesis.ErrInvalidArgument}, args...)...))
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", synthesis.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: invalid JSON: %v", synthesis.ErrInvalidArgument, err)
	}
	return nil
}

// uuidParam parses a UUID path parameter.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a valid id", synthesis.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

// handleHealth answers immediately, even during initialization.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, map[string]any{
		"status":         status,
		"version":        s.opts.Version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleReady returns 200 only when initialized and the database answers.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		if err := s.GetInitError(); err != nil {
			writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Error: "service initializing"})
		return
	}

	health := s.components().Store.HealthCheck(r.Context())
	if health.Status == "unhealthy" {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "database": health})
		return
	}
	writeJSON(w, map[string]any{"status": "ready", "database": health})
}

// handleStats reports table counts and component statistics.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	deps := s.components()

	counts, err := deps.Store.Counts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"counts":         counts,
		"synthesis":      deps.Pipeline.Stats(),
		"rate_limit":     s.limiter.Stats(),
		"sse_clients":    s.sse.ClientCount(),
		"events_sent":    s.sse.EventsSent(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"version":        s.opts.Version,
	}
	if deps.Queue != nil {
		resp["queue"] = deps.Queue.Stats()
	}
	if deps.Maintenance != nil {
		resp["maintenance"] = deps.Maintenance.Stats()
	}
	writeJSON(w, resp)
}
