package api

import "net/http"

// BoardHandler serves the rendered board and the leader.
type BoardHandler struct {
	deps Dependencies
}

// NewBoardHandler creates a new board handler.
func NewBoardHandler(deps Dependencies) *BoardHandler {
	return &BoardHandler{deps: deps}
}

// HandleGetBoard handles GET /board.
func (h *BoardHandler) HandleGetBoard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Board(r.Context()))
}

// HandleGetLeader handles GET /leader.
func (h *BoardHandler) HandleGetLeader(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Leader(r.Context()))
}
