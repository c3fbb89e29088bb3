package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/labforge/internal/lab"
	"github.com/michaelbrown/labforge/internal/storage"
)

// SubmitterHeader carries the authenticated learner's ID, set by the
// gateway in front of this service.
const SubmitterHeader = "X-Submitter-ID"

const maxCodeBytes = 1 << 20

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Submitter identity ---

type submitterKey struct{}

func requireSubmitter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(SubmitterHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+SubmitterHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), submitterKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func submitterFrom(ctx context.Context) string {
	id, _ := ctx.Value(submitterKey{}).(string)
	return id
}

func labIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// lookupLab writes the error response itself when it returns nil.
func (s *Server) lookupLab(w http.ResponseWriter, r *http.Request) *storage.Lab {
	id, ok := labIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid lab id")
		return nil
	}
	l, err := s.store.GetLab(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, lab.MsgLabNotFound)
		return nil
	}
	if err != nil {
		s.logger.Error("loading lab", "lab_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading lab failed")
		return nil
	}
	return l
}

// --- Lab handlers ---

func (s *Server) handleListLabs(w http.ResponseWriter, r *http.Request) {
	labs, err := s.store.ListLabs(r.Context())
	if err != nil {
		s.logger.Error("listing labs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing labs failed")
		return
	}

	if labs == nil {
		labs = []storage.Lab{}
	}
	writeJSON(w, http.StatusOK, labs)
}

type labResponse struct {
	*storage.Lab
	LastSubmission *storage.Submission `json:"last_submission"`
}

func (s *Server) handleGetLab(w http.ResponseWriter, r *http.Request) {
	l := s.lookupLab(w, r)
	if l == nil {
		return
	}

	last, err := storage.LatestSubmission(r.Context(), s.store, l.ID, submitterFrom(r.Context()))
	if err != nil {
		s.logger.Error("loading last submission", "lab_id", l.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "loading submissions failed")
		return
	}

	writeJSON(w, http.StatusOK, labResponse{Lab: l, LastSubmission: last})
}

// --- Submission handlers ---

type submitRequest struct {
	Code  string `json:"code"`
	RunID string `json:"run_id"`
}

type submitResponse struct {
	lab.Result
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	RunID           string `json:"run_id"`
}

func newSubmitResponse(res lab.Result, runID string) submitResponse {
	return submitResponse{
		Result:          res,
		ExecutionTimeMs: res.ExecutionTime.Milliseconds(),
		RunID:           runID,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCodeBytes)
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	l := s.lookupLab(w, r)
	if l == nil {
		return
	}
	submitter := submitterFrom(r.Context())

	run, ctx, err := s.runs.Start(r.Context(), req.RunID, l.ID, submitter)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrRunExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	defer s.runs.Finish(run)

	res := s.runner.RunLabStreaming(ctx, l.ID, req.Code, submitter, nil)
	writeJSON(w, http.StatusOK, newSubmitResponse(res, run.ID))
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	id, ok := labIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid lab id")
		return
	}

	opts := storage.SubmissionListOptions{
		LabID:       id,
		SubmitterID: submitterFrom(r.Context()),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			opts.Offset = n
		}
	}

	subs, err := s.store.ListSubmissions(r.Context(), opts)
	if err != nil {
		s.logger.Error("listing submissions", "lab_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "listing submissions failed")
		return
	}

	if subs == nil {
		subs = []storage.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// --- Run handlers ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List(submitterFrom(r.Context())))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runs.Cancel(id, submitterFrom(r.Context())) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
