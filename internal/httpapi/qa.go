package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/llm"
	"github.com/jordanhubbard/quizhub/internal/service"
	"github.com/jordanhubbard/quizhub/internal/urlnorm"
)

type askRequest struct {
	Question string `json:"question"`
	BlogURL  string `json:"blog_url,omitempty"`
	Model    string `json:"model,omitempty"`
}

// handleQAAsk answers a one-off reader question. When blog_url is supplied
// and a stored summary exists, it is passed to the model as context.
func (s *Server) handleQAAsk(w http.ResponseWriter, r *http.Request) {
	pub := auth.FromContext(r.Context())

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "invalid request body: "+err.Error(), "")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "question is required", "question")
		return
	}

	model := req.Model
	if model == "" {
		model = pub.Config.LLMModel
	}
	client, err := s.registry.ChatFor(model)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, err.Error(), "model")
		return
	}

	var context string
	if req.BlogURL != "" {
		normalized, err := urlnorm.Normalize(req.BlogURL)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, service.CodeValidation, "invalid blog_url: "+err.Error(), "blog_url")
			return
		}
		if summary, err := s.store.GetSummary(r.Context(), normalized); err == nil && summary != nil {
			context = summary.Text
		}
	}

	ctx := llm.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
	answer, err := client.Chat(ctx, model, llm.BuildAskMessages(req.Question, context, pub.Config.CustomQuestionPrompt))
	if err != nil {
		classified := client.ClassifyError(err)
		status := http.StatusBadGateway
		code := CodeUpstream
		if classified.Class == llm.ErrRateLimited {
			status = http.StatusTooManyRequests
			code = CodeRateLimited
		}
		writeError(w, r, status, code, classified.Error(), "")
		return
	}

	writeSuccess(w, r, http.StatusOK, "answer generated", map[string]string{
		"question": req.Question,
		"answer":   strings.TrimSpace(answer),
		"model":    model,
	})
}
