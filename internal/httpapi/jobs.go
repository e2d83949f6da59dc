package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/service"
)

type processRequest struct {
	BlogURL string `json:"blog_url"`
}

func (s *Server) handleJobsProcess(w http.ResponseWriter, r *http.Request) {
	pub := auth.FromContext(r.Context())

	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "invalid request body: "+err.Error(), "")
		return
	}
	if req.BlogURL == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "blog_url is required", "blog_url")
		return
	}

	res, err := s.svc.EnqueueProcess(r.Context(), pub, req.BlogURL)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusAccepted, "job accepted", res)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	entry, err := s.svc.JobStatus(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "job found", entry)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	entry, err := s.svc.CancelJob(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "job cancelled", entry)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountQueueByStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	result := map[string]any{"queue": counts}
	if s.stats != nil {
		result["windows"] = s.stats.Global()
		result["by_publisher"] = s.stats.SummaryByPublisher()
	}
	writeSuccess(w, r, http.StatusOK, "stats", result)
}
