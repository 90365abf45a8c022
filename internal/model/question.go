package model

// QuestionRef is a read-only question as served by the backend.
type QuestionRef struct {
	QuestionID FlexID  `json:"id"`
	Marks      float64 `json:"marks"`
	PromptText string  `json:"question_text"`
}

// ID returns the question identifier as a plain string.
func (q QuestionRef) ID() string {
	return q.QuestionID.String()
}

// Subject represents an academic course or subject.
type Subject struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

// QuestionSet is a published set of questions a student can attempt.
type QuestionSet struct {
	ID          FlexID        `json:"id"`
	Title       string        `json:"title"`
	SubjectID   FlexID        `json:"subject_id,omitempty"`
	SubjectName string        `json:"subject_name,omitempty"`
	TotalMarks  float64       `json:"total_marks,omitempty"`
	Questions   []QuestionRef `json:"questions,omitempty"`
}

// QuestionIDs returns the IDs of every question in the set, in order.
func (s QuestionSet) QuestionIDs() []string {
	ids := make([]string, 0, len(s.Questions))
	for _, q := range s.Questions {
		ids = append(ids, q.ID())
	}
	return ids
}
