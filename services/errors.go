package services

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	// ErrNotFound covers unknown surveys, questions and participants, and also join
	// codes whose survey is not active.
	ErrNotFound = errors.New("not found")
	// ErrSessionClosed is returned for answers submitted to a survey that is not active.
	ErrSessionClosed = errors.New("session closed")
	// ErrLocked is returned for structural edits to a survey that has been activated.
	ErrLocked = errors.New("survey locked")
	// ErrCodeCollision is returned when another active survey holds the join code.
	ErrCodeCollision = errors.New("join code in use")
	// ErrInvalidAnswer is returned for values outside a question's declared domain.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrInvalidSurvey is returned for malformed survey or question content.
	ErrInvalidSurvey = errors.New("invalid survey")
	// ErrUnauthorized is returned when the actor is not the survey's creator.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStorageUnavailable means the store could not answer; it says nothing about
	// whether the record exists.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// storageErr classifies a database or redis error. Record-not-found becomes
// ErrNotFound, anything else ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, redis.Nil):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isDomainErr(err):
		return err
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	}
}

func isDomainErr(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrSessionClosed, ErrLocked, ErrCodeCollision,
		ErrInvalidAnswer, ErrInvalidSurvey, ErrUnauthorized, ErrStorageUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
