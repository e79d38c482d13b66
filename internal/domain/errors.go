package domain

import "errors"

var (
	// ErrQuizNotFound is returned when a room has no stored quiz (or not the requested version).
	ErrQuizNotFound = errors.New("active quiz not found")
	// ErrBankQuizNotFound indicates a quiz referenced by id is not in the quiz bank.
	ErrBankQuizNotFound = errors.New("quiz not found in bank")
	// ErrParticipantNotFound is returned when a connection acts in a room it has not joined.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrMalformedPayload marks an inbound event missing required fields.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrForbidden marks an event the sender's role may not issue.
	ErrForbidden = errors.New("event not allowed for role")
	// ErrGraderUnavailable wraps transport or status failures of the grading collaborator.
	ErrGraderUnavailable = errors.New("grader unavailable")
	// ErrMalformedAssessment means the grader answered with something that is not a valid assessment.
	ErrMalformedAssessment = errors.New("malformed assessment")
)
