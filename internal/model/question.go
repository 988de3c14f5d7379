package model

import "strings"

// AnswerFormat is the structural contract the model is asked to follow
type AnswerFormat string

const (
	FormatRating    AnswerFormat = "rating"
	FormatSentiment AnswerFormat = "sentiment"
	FormatFreeText  AnswerFormat = "free_text"
)

// SurveyQuestion is supplied by the caller and never modified
type SurveyQuestion struct {
	Text        string       `json:"text" bson:"text" validate:"required,max=2000"`
	Format      AnswerFormat `json:"format,omitempty" bson:"format" validate:"omitempty,oneof=rating sentiment free_text"`
	MaxLength   int          `json:"maxLength,omitempty" bson:"maxLength" validate:"gte=0,lte=2000"`
	RatingMin   int          `json:"ratingMin,omitempty" bson:"ratingMin"`
	RatingMax   int          `json:"ratingMax,omitempty" bson:"ratingMax"`
	SearchQuery string       `json:"searchQuery,omitempty" bson:"searchQuery,omitempty"`
}

// AnswerSchema is the resolved parse contract for a question
type AnswerSchema struct {
	Format    AnswerFormat `json:"format"`
	MaxLength int          `json:"maxLength"`
	RatingMin int          `json:"ratingMin"`
	RatingMax int          `json:"ratingMax"`
}

// RequiresRating reports whether a parsed answer must carry a rating
func (s AnswerSchema) RequiresRating() bool {
	return s.Format == FormatRating
}

// Schema fills defaults: rating format on a 1..5 scale, 100 rune rationale
func (q SurveyQuestion) Schema() AnswerSchema {
	s := AnswerSchema{
		Format:    q.Format,
		MaxLength: q.MaxLength,
		RatingMin: q.RatingMin,
		RatingMax: q.RatingMax,
	}
	if s.Format == "" {
		s.Format = FormatRating
	}
	if s.MaxLength <= 0 {
		s.MaxLength = 100
	}
	if s.RatingMin == 0 && s.RatingMax == 0 {
		s.RatingMin, s.RatingMax = 1, 5
	}
	if s.RatingMax <= s.RatingMin {
		s.RatingMax = s.RatingMin + 4
	}
	return s
}

// Normalized returns a copy with whitespace trimmed
func (q SurveyQuestion) Normalized() SurveyQuestion {
	q.Text = strings.TrimSpace(q.Text)
	q.SearchQuery = strings.TrimSpace(q.SearchQuery)
	return q
}
