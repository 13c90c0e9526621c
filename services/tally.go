package services

import (
	"fmt"
	"strconv"
	"strings"

	"livesurvey/models"
)

const (
	maxScaleSpan     = 100
	defaultWordLimit = 1
	maxWordLimit     = 10
	maxWordKeyLen    = 255
)

// TallyKeys derives the legal tally key domain of a question from its type and
// config. Word-cloud keys are open-ended and instruction slides take no answers, so
// both start empty.
func TallyKeys(q *models.Question) []string {
	switch q.Type {
	case models.TypeSingleChoice, models.TypeQuiz:
		keys := make([]string, 0, len(q.Options))
		for _, opt := range q.Options {
			keys = append(keys, opt.Label)
		}
		return keys
	case models.TypeScale:
		if q.ScaleMax < q.ScaleMin {
			return nil
		}
		keys := make([]string, 0, q.ScaleMax-q.ScaleMin+1)
		for v := q.ScaleMin; v <= q.ScaleMax; v++ {
			keys = append(keys, strconv.Itoa(v))
		}
		return keys
	default:
		return nil
	}
}

// ValidateQuestion checks that a question carries a non-empty config appropriate to
// its type.
func ValidateQuestion(q *models.Question) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question text is required", ErrInvalidSurvey)
	}

	switch q.Type {
	case models.TypeSingleChoice, models.TypeQuiz:
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: %s question needs at least two options", ErrInvalidSurvey, q.Type)
		}
		seen := make(map[string]bool, len(q.Options))
		correct := 0
		for _, opt := range q.Options {
			label := strings.TrimSpace(opt.Label)
			if label == "" {
				return fmt.Errorf("%w: option label is required", ErrInvalidSurvey)
			}
			if seen[label] {
				return fmt.Errorf("%w: duplicate option label %q", ErrInvalidSurvey, label)
			}
			seen[label] = true
			if opt.IsCorrect {
				correct++
			}
		}
		if q.Type == models.TypeQuiz && correct != 1 {
			return fmt.Errorf("%w: quiz question must have exactly one correct option", ErrInvalidSurvey)
		}
		if q.Type == models.TypeSingleChoice && correct != 0 {
			return fmt.Errorf("%w: single-choice options cannot be marked correct", ErrInvalidSurvey)
		}
	case models.TypeScale:
		if q.ScaleMin >= q.ScaleMax {
			return fmt.Errorf("%w: scale_min must be below scale_max", ErrInvalidSurvey)
		}
		if q.ScaleMax-q.ScaleMin+1 > maxScaleSpan {
			return fmt.Errorf("%w: scale spans more than %d values", ErrInvalidSurvey, maxScaleSpan)
		}
	case models.TypeWordCloud:
		if q.WordLimit < 1 || q.WordLimit > maxWordLimit {
			return fmt.Errorf("%w: word_limit must be between 1 and %d", ErrInvalidSurvey, maxWordLimit)
		}
	case models.TypeInstruction:
		if len(q.Options) > 0 {
			return fmt.Errorf("%w: instruction slides take no options", ErrInvalidSurvey)
		}
	default:
		return fmt.Errorf("%w: unknown question type %q", ErrInvalidSurvey, q.Type)
	}
	return nil
}

// validateTally checks that stored tally keys cover exactly the question's derived
// domain. Word-cloud tallies are open-ended and are not checked.
func validateTally(q *models.Question) error {
	if q.Type == models.TypeWordCloud {
		return nil
	}
	want := TallyKeys(q)
	if len(want) != len(q.Tally) {
		return fmt.Errorf("%w: question %d tally has %d keys, want %d", ErrInvalidSurvey, q.ID, len(q.Tally), len(want))
	}
	have := make(map[string]bool, len(q.Tally))
	for _, e := range q.Tally {
		have[e.AnswerKey] = true
	}
	for _, k := range want {
		if !have[k] {
			return fmt.Errorf("%w: question %d tally is missing key %q", ErrInvalidSurvey, q.ID, k)
		}
	}
	return nil
}

// Answer is a participant's raw answer. Each question type accepts exactly one
// concrete answer type.
type Answer interface {
	isAnswer()
}

// ChoiceAnswer answers single-choice and quiz questions.
type ChoiceAnswer struct {
	OptionID uint
}

// ScaleAnswer answers scale questions.
type ScaleAnswer struct {
	Value int
}

// WordAnswer answers word-cloud questions.
type WordAnswer struct {
	Text string
}

func (ChoiceAnswer) isAnswer() {}
func (ScaleAnswer) isAnswer()  {}
func (WordAnswer) isAnswer()   {}

// resolvedAnswer is an answer mapped onto a question's tally key domain.
type resolvedAnswer struct {
	Key     string
	Correct *bool
}

// resolveAnswer validates an answer against the question's type contract and returns
// the tally key it contributes.
func resolveAnswer(q *models.Question, a Answer) (resolvedAnswer, error) {
	switch q.Type {
	case models.TypeSingleChoice, models.TypeQuiz:
		choice, ok := a.(ChoiceAnswer)
		if !ok {
			return resolvedAnswer{}, fmt.Errorf("%w: %s question expects an option", ErrInvalidAnswer, q.Type)
		}
		opt := q.OptionByID(choice.OptionID)
		if opt == nil {
			return resolvedAnswer{}, fmt.Errorf("%w: option %d is not part of question %d", ErrInvalidAnswer, choice.OptionID, q.ID)
		}
		res := resolvedAnswer{Key: opt.Label}
		if q.Type == models.TypeQuiz {
			correct := opt.IsCorrect
			res.Correct = &correct
		}
		return res, nil
	case models.TypeScale:
		scale, ok := a.(ScaleAnswer)
		if !ok {
			return resolvedAnswer{}, fmt.Errorf("%w: scale question expects a value", ErrInvalidAnswer)
		}
		if scale.Value < q.ScaleMin || scale.Value > q.ScaleMax {
			return resolvedAnswer{}, fmt.Errorf("%w: %d is outside [%d,%d]", ErrInvalidAnswer, scale.Value, q.ScaleMin, q.ScaleMax)
		}
		return resolvedAnswer{Key: strconv.Itoa(scale.Value)}, nil
	case models.TypeWordCloud:
		word, ok := a.(WordAnswer)
		if !ok {
			return resolvedAnswer{}, fmt.Errorf("%w: word-cloud question expects text", ErrInvalidAnswer)
		}
		key := NormalizeWords(word.Text, q.WordLimit)
		if key == "" {
			return resolvedAnswer{}, fmt.Errorf("%w: empty text", ErrInvalidAnswer)
		}
		return resolvedAnswer{Key: key}, nil
	case models.TypeInstruction:
		return resolvedAnswer{}, fmt.Errorf("%w: instruction slides take no answers", ErrInvalidAnswer)
	default:
		return resolvedAnswer{}, fmt.Errorf("%w: unknown question type %q", ErrInvalidAnswer, q.Type)
	}
}

// NormalizeWords lower-cases text and keeps its first limit words. Extra words are
// dropped, not rejected.
func NormalizeWords(text string, limit int) string {
	if limit < 1 {
		limit = defaultWordLimit
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) > limit {
		words = words[:limit]
	}
	out := strings.Join(words, " ")
	if len(out) > maxWordKeyLen {
		out = strings.ToValidUTF8(out[:maxWordKeyLen], "")
	}
	return out
}

// SubmitAnswerRequest is the wire form of an answer. Exactly one of OptionID, Value
// and Text must be set.
type SubmitAnswerRequest struct {
	ParticipantID string  `json:"participant_id" binding:"required"`
	QuestionID    uint    `json:"question_id" binding:"required"`
	OptionID      *uint   `json:"option_id"`
	Value         *int    `json:"value"`
	Text          *string `json:"text"`
}

func (r *SubmitAnswerRequest) Answer() (Answer, error) {
	var answers []Answer
	if r.OptionID != nil {
		answers = append(answers, ChoiceAnswer{OptionID: *r.OptionID})
	}
	if r.Value != nil {
		answers = append(answers, ScaleAnswer{Value: *r.Value})
	}
	if r.Text != nil {
		answers = append(answers, WordAnswer{Text: *r.Text})
	}
	if len(answers) != 1 {
		return nil, fmt.Errorf("%w: exactly one of option_id, value or text is required", ErrInvalidAnswer)
	}
	return answers[0], nil
}
