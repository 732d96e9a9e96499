// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/staffrate/internal/adapters/http/site"
	"github.com/okian/staffrate/internal/adapters/http/swagger"
	service "github.com/okian/staffrate/internal/app"
	"github.com/okian/staffrate/internal/domain/vote"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Board returns the current frame including per-device voted flags.
	Board(ctx context.Context) service.Board
	// Leader returns the leader or the placeholder.
	Leader(ctx context.Context) service.LeaderView
	// Vote casts a vote from this device.
	Vote(ctx context.Context, id string, value int) (vote.Receipt, error)
}

// Server wires HTTP routes for the kiosk API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	boardHandler  *BoardHandler
	voteHandler   *VoteHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		boardHandler:  NewBoardHandler(deps),
		voteHandler:   NewVoteHandler(deps),
	}
}

// Routes returns the router with every endpoint attached.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Get("/board", MetricsMiddleware(s.boardHandler.HandleGetBoard, "board"))
	r.Get("/leader", MetricsMiddleware(s.boardHandler.HandleGetLeader, "leader"))
	r.Route("/staff/{id}", func(r chi.Router) {
		r.Post("/votes", MetricsMiddleware(s.voteHandler.HandlePostVote, "votes"))
	})
	swagger.Register(r)
	site.Register(r)
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
