package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/audiolibrelab/memocapture/internal/model"
	"github.com/audiolibrelab/memocapture/internal/service"
)

// Metrics is the subset of the metrics registry the server reports to.
type Metrics interface {
	HTTPRequest(route, code string)
	Handler() http.Handler
}

// Server exposes the service as a JSON API
type Server struct {
	service service.Service
	metrics Metrics
	port    string
	router  *mux.Router
}

func New(svc service.Service, metrics Metrics, port string) *Server {
	s := &Server{
		service: svc,
		metrics: metrics,
		port:    port,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.countRequests, s.recoverPanics)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	// Recording session
	api.HandleFunc("/recording", s.handleRecordingStatus).Methods(http.MethodGet)
	api.HandleFunc("/recording/start", s.handleStartRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/pause", s.handlePauseRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/resume", s.handleResumeRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleStopRecording).Methods(http.MethodPost)
	api.HandleFunc("/recording/cancel", s.handleCancelRecording).Methods(http.MethodPost)

	// Playback
	api.HandleFunc("/playback", s.handlePlaybackStatus).Methods(http.MethodGet)
	api.HandleFunc("/playback/expand/{id}", s.handleExpand).Methods(http.MethodPost)
	api.HandleFunc("/playback/collapse", s.handleCollapse).Methods(http.MethodPost)
	api.HandleFunc("/playback/toggle", s.handleToggle).Methods(http.MethodPost)
	api.HandleFunc("/playback/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/playback/skip-forward", s.handleSkipForward).Methods(http.MethodPost)
	api.HandleFunc("/playback/skip-backward", s.handleSkipBackward).Methods(http.MethodPost)

	// Library
	api.HandleFunc("/recordings", s.handleListRecordings).Methods(http.MethodGet)
	api.HandleFunc("/recordings/delete", s.handleDeleteRecordings).Methods(http.MethodPost)
	api.HandleFunc("/recordings/move", s.handleMoveRecordings).Methods(http.MethodPost)
	api.HandleFunc("/recordings/{id}", s.handleGetRecording).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", s.handleDeleteRecording).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/file", s.handleRecordingFile).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}/favorite", s.handleToggleFavorite).Methods(http.MethodPost)
	api.HandleFunc("/recordings/{id}/tags", s.handleSetTags).Methods(http.MethodPut)

	// Trash
	api.HandleFunc("/trash", s.handleListTrash).Methods(http.MethodGet)
	api.HandleFunc("/trash", s.handleEmptyTrash).Methods(http.MethodDelete)
	api.HandleFunc("/trash/sweep", s.handleSweepTrash).Methods(http.MethodPost)
	api.HandleFunc("/trash/{id}/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/trash/{id}", s.handlePermanentDelete).Methods(http.MethodDelete)

	// Folders
	api.HandleFunc("/folders", s.handleListFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", s.handleCreateFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/reconcile", s.handleReconcileFolders).Methods(http.MethodPost)

	// subrouters do not inherit these
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed", "path", r.URL.Path)
	})
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendErrorResponse(w, http.StatusNotFound, "Not found", "path", r.URL.Path)
	})
	r.MethodNotAllowedHandler = methodNotAllowed
	r.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed
	api.NotFoundHandler = notFound
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting MemoCapture server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("Shutting down MemoCapture server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.HealthCheck(r.Context()); err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, err.Error(), "operation", "health")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "status": "ok"})
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidConfiguration:
		return http.StatusBadRequest
	case model.KindPermissionDenied:
		return http.StatusForbidden
	case model.KindNotFound, model.KindFileNotFound:
		return http.StatusNotFound
	case model.KindBusy, model.KindInvalidState:
		return http.StatusConflict
	case model.KindAudioService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendServiceError converts a service error into the JSON error body.
func (s *Server) sendServiceError(w http.ResponseWriter, err error, logContext ...interface{}) {
	var me *model.Error
	if !errors.As(err, &me) {
		me = model.Wrap(err).(*model.Error)
	}
	code := statusFor(me.Kind)
	logFields := []interface{}{"error_message", me.Error(), "status_code", code, "kind", me.Kind}
	logFields = append(logFields, logContext...)
	if code >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}
	sendJSON(w, code, map[string]interface{}{
		"success": false,
		"kind":    me.Kind,
		"error":   me.UserMessage(),
	})
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Debug("Sending error response to client", logFields...)

	sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.E(model.KindInvalidConfiguration, "invalid request body", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.metrics == nil {
			return
		}
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.HTTPRequest(route, strconv.Itoa(rec.status))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("Handler panicked", "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
				s.sendServiceError(w, model.E(model.KindUnexpected, "internal error", fmt.Errorf("%v", v)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
