package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnderleveled       = errors.New("underleveled")
	ErrTargetNotModerable = errors.New("target not moderable")
	ErrActionForbidden    = errors.New("action forbidden")
	ErrStaleReference     = errors.New("stale reference")
	ErrDuplicateCase      = errors.New("duplicate case number")
	ErrInvalidPunishment  = errors.New("invalid punishment")
)

// UnderleveledError is returned when an actor's level is below what a
// command requires.
type UnderleveledError struct {
	Command string
	Have    int
	Need    int
}

func (e *UnderleveledError) Error() string {
	return fmt.Sprintf("user's level (%d) is not enough for the command's required level (%d)", e.Have, e.Need)
}

func (e *UnderleveledError) Is(target error) bool { return target == ErrUnderleveled }

// NotModerableError explains why a subject cannot be acted on.
type NotModerableError struct {
	SubjectID string
	Reason    string
}

func (e *NotModerableError) Error() string {
	return fmt.Sprintf("cannot moderate %s: %s", e.SubjectID, e.Reason)
}

func (e *NotModerableError) Is(target error) bool { return target == ErrTargetNotModerable }
