package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/okian/staffrate/internal/adapters/repository"
	service "github.com/okian/staffrate/internal/app"
	"github.com/okian/staffrate/internal/domain/vote"
)

const maxVoteBody = 1 << 10

var validate = validator.New()

// voteRequest is the body of POST /staff/{id}/votes. The range is enforced by
// the coordinator so every entry point reports the same error.
type voteRequest struct {
	Value *int `json:"value" validate:"required"`
}

// VoteHandler accepts votes.
type VoteHandler struct {
	deps Dependencies
}

// NewVoteHandler creates a new vote handler.
func NewVoteHandler(deps Dependencies) *VoteHandler {
	return &VoteHandler{deps: deps}
}

// HandlePostVote handles POST /staff/{id}/votes.
func (h *VoteHandler) HandlePostVote(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingID)
		return
	}

	var req voteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVoteBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: invalid JSON body", ErrBadRequest))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: value is required", ErrBadRequest))
		return
	}

	receipt, err := h.deps.Vote(r.Context(), id, *req.Value)
	if err != nil {
		status, code := voteErrorStatus(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// voteErrorStatus maps vote errors to HTTP status and error code.
func voteErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, vote.ErrInvalidValue):
		return http.StatusBadRequest, "invalid_value"
	case errors.Is(err, vote.ErrAlreadyVoted):
		return http.StatusConflict, "already_voted"
	case errors.Is(err, vote.ErrVotePending):
		return http.StatusConflict, "vote_pending"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, vote.ErrVoteFailed):
		return http.StatusServiceUnavailable, "vote_failed"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
