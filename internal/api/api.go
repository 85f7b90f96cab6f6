package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/internal/display"
	gtfs_realtime "github.com/transitboard/internal/gtfs-realtime"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// BoardSource returns what the board currently shows
type BoardSource interface {
	Snapshot() display.Snapshot
}

// HealthSource reports the polling scheduler
type HealthSource interface {
	Snapshot() gtfs_realtime.Snapshot
}

type ResponseModel struct {
	Code        int         `json:"code"`
	CurrentTime int64       `json:"currentTime"`
	Text        string      `json:"text"`
	Data        interface{} `json:"data,omitempty"`
}

type Server struct {
	board   BoardSource
	health  HealthSource
	metrics http.Handler
	logger  logger.Logger
	now     func() time.Time
}

// NewServer builds the HTTP surface. metrics may be nil.
func NewServer(board BoardSource, health HealthSource, metrics http.Handler, log logger.Logger) *Server {
	return &Server{
		board:   board,
		health:  health,
		metrics: metrics,
		logger:  log,
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/api/board", s.boardHandler)
	router.HandlerFunc(http.MethodGet, "/api/board/:direction", s.directionHandler)
	router.HandlerFunc(http.MethodGet, "/api/health", s.healthHandler)
	if s.metrics != nil {
		router.Handler(http.MethodGet, "/metrics", s.metrics)
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "not found")
	})
	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP API listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) boardHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, http.StatusOK, s.board.Snapshot())
}

func (s *Server) directionHandler(w http.ResponseWriter, r *http.Request) {
	params := httprouter.ParamsFromContext(r.Context())
	snap := s.board.Snapshot()

	var list models.DirectionalArrivalList
	switch models.Direction(params.ByName("direction")) {
	case models.DirectionWest:
		list = snap.West
	case models.DirectionEast:
		list = snap.East
	default:
		s.sendError(w, http.StatusNotFound, "unknown direction")
		return
	}

	s.sendResponse(w, http.StatusOK, map[string]interface{}{
		"arrivals": list,
		"status":   snap.Status,
	})
}

// healthHandler answers 503 while the board shows the reconnecting state
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.health.Snapshot()
	status := http.StatusOK
	if snap.Degraded || !snap.Running {
		status = http.StatusServiceUnavailable
	}
	s.sendResponse(w, status, snap)
}

func (s *Server) sendResponse(w http.ResponseWriter, code int, data interface{}) {
	s.write(w, code, ResponseModel{
		Code:        code,
		CurrentTime: s.now().UnixMilli(),
		Text:        http.StatusText(code),
		Data:        data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, code int, text string) {
	s.write(w, code, ResponseModel{
		Code:        code,
		CurrentTime: s.now().UnixMilli(),
		Text:        text,
	})
}

func (s *Server) write(w http.ResponseWriter, code int, body ResponseModel) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
