package service

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

// QuestionService reads question sets. Question data is never modified
// client-side.
type QuestionService struct {
	client *transport.Client
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(client *transport.Client) *QuestionService {
	return &QuestionService{client: client}
}

// ListQuestionSets returns the sets visible to the signed-in user.
func (s *QuestionService) ListQuestionSets(ctx context.Context) ([]model.QuestionSet, error) {
	var sets []model.QuestionSet
	if err := s.client.DoJSON(ctx, http.MethodGet, "/question-sets", &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// GetQuestionSet returns one set with its questions.
func (s *QuestionService) GetQuestionSet(ctx context.Context, id string) (model.QuestionSet, error) {
	var set model.QuestionSet
	if err := s.client.DoJSON(ctx, http.MethodGet, "/question-sets/"+url.PathEscape(id), &set); err != nil {
		return model.QuestionSet{}, err
	}
	if set.ID == "" {
		set.ID = model.FlexID(id)
	}
	return set, nil
}
