package api

import (
	"fmt"
	"net/http"
	"strconv"

	"subwatch/internal/types"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// HandleListJobs serves GET /jobs?state=dead&limit=50. state defaults to dead.
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := types.JobDead
	if raw := q.Get("state"); raw != "" {
		st, err := types.ParseJobState(raw)
		if err != nil {
			Error(w, r, err)
			return
		}
		state = st
	}

	limit := defaultJobLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJobLimit {
			Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidLimit,
				fmt.Sprintf("limit must be an integer between 1 and %d", maxJobLimit), nil))
			return
		}
		limit = n
	}

	jobs, err := s.Jobs.ListByState(r.Context(), state, limit)
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "failed to list jobs", "state", state, "error", err)
		Error(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: jobs})
}

// HandleSchedule serves GET /schedule.
func (s *Server) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: s.Schedule.Entries()})
}
