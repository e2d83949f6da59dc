package httpapi

import (
	"net/http"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/service"
)

func (s *Server) handleCheckAndLoad(w http.ResponseWriter, r *http.Request) {
	pub := auth.FromContext(r.Context())
	blogURL := r.URL.Query().Get("blog_url")
	if blogURL == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "blog_url is required", "blog_url")
		return
	}

	res, err := s.svc.CheckAndLoad(r.Context(), pub, blogURL)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}

	msg := "questions ready"
	if res.ProcessingStatus != service.StatusReady {
		msg = "processing " + string(res.ProcessingStatus)
	}
	writeSuccess(w, r, http.StatusOK, msg, res)
}

func (s *Server) handleQuestionsByURL(w http.ResponseWriter, r *http.Request) {
	pub := auth.FromContext(r.Context())
	blogURL := r.URL.Query().Get("blog_url")
	if blogURL == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "blog_url is required", "blog_url")
		return
	}

	res, err := s.svc.QuestionsByURL(r.Context(), pub, blogURL)
	if err != nil {
		writeServiceError(w, r, s.log, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, "questions ready", res)
}
