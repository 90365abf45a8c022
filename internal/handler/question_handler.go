package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
)

// QuestionHandler serves read-only question sets.
type QuestionHandler struct {
	questionService *service.QuestionService
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{questionService: questionService}
}

// ListQuestionSets godoc
// GET /api/question-sets
func (h *QuestionHandler) ListQuestionSets(c *gin.Context) {
	sets, err := h.questionService.ListQuestionSets(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sets)
}

// GetQuestionSet godoc
// GET /api/question-sets/:id
func (h *QuestionHandler) GetQuestionSet(c *gin.Context) {
	set, err := h.questionService.GetQuestionSet(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, set)
}
