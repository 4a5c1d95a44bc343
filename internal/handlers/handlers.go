// Package handlers provides HTTP request handlers for the fetch API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/alita/internal/assets"
	"github.com/Rorqualx/alita/internal/session"
	"github.com/Rorqualx/alita/internal/types"
	"github.com/Rorqualx/alita/pkg/version"
)

// maxBodySize bounds the request body to prevent memory exhaustion.
const maxBodySize = 1 << 20 // 1MB

// Handler serves the fetch API.
type Handler struct {
	dispatcher *session.Dispatcher
	startedAt  time.Time
}

// New creates a new Handler over the given dispatcher.
func New(dispatcher *session.Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher, startedAt: time.Now()}
}

// closeBody closes an io.ReadCloser and logs any error at debug level.
func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing request body")
	}
}

// ServeHTTP handles POST /get: decode the request, run it through the
// dispatcher, and write the result (or a mapped error) as JSON.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer closeBody(r.Body)

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("failed to read request body")
		writeErrorJSON(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := types.ParseFetchRequest(buf.Bytes())
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	resp, err := h.dispatcher.Fetch(r.Context(), req)
	if err != nil {
		h.writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports basic liveness; it does not probe the browser pool.
// A browser requesting the page (Accept: text/html) gets a rendered status
// page; everything else gets JSON.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		page, err := assets.RenderHealthPage(assets.HealthPageData{
			Version:   version.Full(),
			GoVersion: version.GoVersion(),
			Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to render health page")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, page)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForKind maps a FetchError's Kind to the HTTP status the caller sees.
func statusForKind(kind types.Kind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindBadGateway:
		return http.StatusBadGateway
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeMappedError(w http.ResponseWriter, err error) {
	var fetchErr *types.FetchError
	if errors.As(err, &fetchErr) {
		log.Warn().Err(fetchErr).Str("field", fetchErr.Field).Int("kind", int(fetchErr.Kind)).Msg("fetch failed")
		writeErrorJSON(w, statusForKind(fetchErr.Kind), fetchErr.Message)
		return
	}

	log.Error().Err(err).Msg("fetch failed with unclassified error")
	writeErrorJSON(w, http.StatusInternalServerError, "internal server error")
}

type errorBody struct {
	Error string `json:"error"`
}

func writeErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}

// writeJSON buffers the encoded body before writing so that an encoding
// failure doesn't leave a partially-written response.
func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
