package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reverie/internal/api"
	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	service api.Service
	handler http.Handler
	writeTO time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		service: d.service,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)
	mux.HandleFunc("POST /api/dreams", srv.handleCreateDream)
	mux.HandleFunc("GET /api/dreams", srv.handleListDreams)
	mux.HandleFunc("GET /api/dreams/{id}", srv.handleGetDream)
	mux.HandleFunc("POST /api/dreams/{id}/segments", srv.handleAddSegment)
	mux.HandleFunc("DELETE /api/dreams/{id}/segments/{segmentId}", srv.handleDeleteSegment)
	mux.HandleFunc("POST /api/dreams/{id}/finish", srv.handleFinish)
	mux.HandleFunc("POST /api/dreams/{id}/stages/{stage}", srv.handleGenerateStage)
	mux.HandleFunc("POST /api/dreams/{id}/recover", srv.handleRecover)
	mux.HandleFunc("POST /api/dreams/{id}/answers", srv.handleAnswer)
	mux.HandleFunc("POST /api/checkins", srv.handleSubmitCheckIn)
	mux.HandleFunc("GET /api/checkins/{id}", srv.handleGetCheckIn)
	mux.HandleFunc("POST /api/checkins/{id}/retry", srv.handleRetryCheckIn)
	mux.HandleFunc("GET /api/profiles/{userId}", srv.handleProfile)

	srv.handler = srv.withRequestID(authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), mux))
	// Finish blocks for up to the finish timeout before it answers.
	srv.writeTO = cfg.FinishTimeout() + 30*time.Second
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTO,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// withRequestID tags the request context with the caller's correlation id,
// minting one when the header is absent.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(api.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(api.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleCreateDream(w http.ResponseWriter, r *http.Request) {
	var req api.CreateDreamRequest
	if !s.decode(w, r, &req) {
		return
	}
	dream, err := s.service.CreateDream(r.Context(), req)
	s.respond(w, r, http.StatusCreated, dream, err)
}

func (s *apiServer) handleListDreams(w http.ResponseWriter, r *http.Request) {
	dreams, err := s.service.ListDreams(r.Context(), r.URL.Query().Get("user_id"))
	if dreams == nil {
		dreams = []api.Dream{}
	}
	s.respond(w, r, http.StatusOK, api.DreamListResponse{Dreams: dreams}, err)
}

func (s *apiServer) handleGetDream(w http.ResponseWriter, r *http.Request) {
	dream, err := s.service.GetDream(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, dream, err)
}

func (s *apiServer) handleAddSegment(w http.ResponseWriter, r *http.Request) {
	var req api.AddSegmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	segment, err := s.service.AddSegment(r.Context(), r.PathValue("id"), req)
	s.respond(w, r, http.StatusCreated, segment, err)
}

func (s *apiServer) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteSegment(r.Context(), r.PathValue("id"), r.PathValue("segmentId"))
	s.respond(w, r, http.StatusNoContent, nil, err)
}

func (s *apiServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	dream, err := s.service.FinishDream(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, dream, err)
}

func (s *apiServer) handleGenerateStage(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := strings.TrimSpace(r.URL.Query().Get("force")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "parse force", "force must be a boolean", nil))
			return
		}
		force = parsed
	}
	stage, err := s.service.GenerateStage(r.Context(), r.PathValue("id"), r.PathValue("stage"), force)
	s.respond(w, r, http.StatusOK, stage, err)
}

func (s *apiServer) handleRecover(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.RecoverDream(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, report, err)
}

func (s *apiServer) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req api.AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer, err := s.service.RecordAnswer(r.Context(), r.PathValue("id"), req)
	s.respond(w, r, http.StatusCreated, answer, err)
}

func (s *apiServer) handleSubmitCheckIn(w http.ResponseWriter, r *http.Request) {
	var req api.CheckInRequest
	if !s.decode(w, r, &req) {
		return
	}
	checkIn, err := s.service.SubmitCheckIn(r.Context(), req)
	s.respond(w, r, http.StatusAccepted, checkIn, err)
}

func (s *apiServer) handleGetCheckIn(w http.ResponseWriter, r *http.Request) {
	checkIn, err := s.service.GetCheckIn(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, checkIn, err)
}

func (s *apiServer) handleRetryCheckIn(w http.ResponseWriter, r *http.Request) {
	checkIn, err := s.service.RetryCheckIn(r.Context(), r.PathValue("id"))
	s.respond(w, r, http.StatusOK, checkIn, err)
}

func (s *apiServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GetProfile(r.Context(), r.PathValue("userId"))
	s.respond(w, r, http.StatusOK, profile, err)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode request", err.Error(), nil))
		return false
	}
	return true
}

func (s *apiServer) respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	s.writeJSON(w, status, payload)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: services.Code(err)})
}
