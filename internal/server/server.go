// Package server implements the HTTP front door of the action service: one
// POST endpoint that accepts a batch of actions and runs them through
// pkg/dispatch.Dispatcher as a single atomic transaction. Authentication,
// request logging and the error-to-status mapping live here; everything
// domain-specific lives in pkg/dispatch and below.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openslides/backend/internal/telemetry"
	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/authadapter"
	"github.com/openslides/backend/pkg/dispatch"
)

// Server is the net/http handler backing "POST /". It holds no state of its
// own beyond its collaborators: the dispatcher and the auth adapter own
// everything request-scoped.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Auth       authadapter.Service
}

// New builds a Server.
func New(dispatcher *dispatch.Dispatcher, auth authadapter.Service) *Server {
	return &Server{Dispatcher: dispatcher, Auth: auth}
}

// Handler returns the net/http.Handler to mount at "/".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleActions)
	return mux
}

type successResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	requestID := uuid.New().String()
	started := time.Now()
	logger := log.With().Str("request_id", requestID).Logger()

	status := s.serve(w, r, &logger)
	telemetry.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
	logger.Info().
		Int("status", status).
		Dur("duration", time.Since(started)).
		Str("path", r.URL.Path).
		Msg("handled request")
}

// serve runs the authenticate → decode → dispatch pipeline and writes
// exactly one response, returning the status it wrote for logging/metrics.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger) int {
	userID, refreshedToken, err := s.Auth.Authenticate(r.Context(), r.Header, r.Cookies())
	if err != nil {
		return s.fail(w, err, logger)
	}
	if refreshedToken != nil {
		w.Header().Set("X-Refreshed-Token", *refreshedToken)
	}

	var requests []dispatch.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		return s.fail(w, &actionerror.SchemaError{Action: "<batch>", Detail: "malformed request body: " + err.Error()}, logger)
	}

	if err := s.Dispatcher.Handle(r.Context(), requests, userID); err != nil {
		return s.fail(w, err, logger)
	}

	writeJSON(w, http.StatusOK, successResponse{Message: "Action handled successfully"})
	return http.StatusOK
}

func (s *Server) fail(w http.ResponseWriter, err error, logger *zerolog.Logger) int {
	status := http.StatusInternalServerError
	var coded actionerror.StatusCoded
	if errors.As(err, &coded) {
		status = coded.StatusCode()
	} else {
		logger.Error().Err(err).Msg("unexpected error handling action batch")
	}
	writeError(w, status, err)
	return status
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Message: err.Error()})
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
