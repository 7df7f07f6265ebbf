package session

import "errors"

// Code is a machine-readable rejection reason.
type Code string

// Rejection codes carried by ValidationError.
const (
	CodeNotAParticipant     Code = "NOT_A_PARTICIPANT"
	CodeNotYourTurn         Code = "NOT_YOUR_TURN"
	CodeIllegalMove         Code = "ILLEGAL_MOVE"
	CodeGameNotActive       Code = "GAME_NOT_ACTIVE"
	CodeGameNotWaiting      Code = "GAME_NOT_WAITING"
	CodeSeatTaken           Code = "SEAT_TAKEN"
	CodeCannotJoinOwnGame   Code = "CANNOT_JOIN_OWN_GAME"
	CodeOfferAlreadyPending Code = "OFFER_ALREADY_PENDING"
	CodeNoOfferPending      Code = "NO_OFFER_PENDING"
	CodeNotOfferRecipient   Code = "NOT_OFFER_RECIPIENT"
	CodeNotTimedOut         Code = "NOT_TIMED_OUT"
	CodeAbortNotAllowed     Code = "ABORT_NOT_ALLOWED"
	CodeFlagFallen          Code = "FLAG_FALLEN"
)

// ValidationError rejects a transition. The document is left untouched and
// the error is reported only to the acting client.
type ValidationError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}

	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is matches another ValidationError by code.
func (e *ValidationError) Is(target error) bool {
	if t, ok := target.(*ValidationError); ok {
		return e.Code == t.Code
	}

	return false
}

func reject(code Code, msg string) error {
	return &ValidationError{Code: code, Message: msg}
}

// Sentinels for errors.Is checks.
var (
	ErrNotAParticipant     = &ValidationError{Code: CodeNotAParticipant, Message: "not a participant"}
	ErrNotYourTurn         = &ValidationError{Code: CodeNotYourTurn, Message: "not your turn"}
	ErrIllegalMove         = &ValidationError{Code: CodeIllegalMove, Message: "illegal move"}
	ErrGameNotActive       = &ValidationError{Code: CodeGameNotActive, Message: "game is not active"}
	ErrGameNotWaiting      = &ValidationError{Code: CodeGameNotWaiting, Message: "game is not open for joining"}
	ErrSeatTaken           = &ValidationError{Code: CodeSeatTaken, Message: "second seat already taken"}
	ErrCannotJoinOwnGame   = &ValidationError{Code: CodeCannotJoinOwnGame, Message: "cannot join own game"}
	ErrOfferAlreadyPending = &ValidationError{Code: CodeOfferAlreadyPending, Message: "a draw offer is already pending"}
	ErrNoOfferPending      = &ValidationError{Code: CodeNoOfferPending, Message: "no draw offer pending"}
	ErrNotOfferRecipient   = &ValidationError{Code: CodeNotOfferRecipient, Message: "cannot answer own draw offer"}
	ErrNotTimedOut         = &ValidationError{Code: CodeNotTimedOut, Message: "no clock has run out"}
	ErrAbortNotAllowed     = &ValidationError{Code: CodeAbortNotAllowed, Message: "abort not allowed"}
	ErrFlagFallen          = &ValidationError{Code: CodeFlagFallen, Message: "your clock has run out"}
)

// ErrAlreadyFinished is returned by a terminal transition computed against a
// session that is already completed or aborted. Observers racing to record
// the same outcome treat it as a no-op.
var ErrAlreadyFinished = errors.New("session already finished")

// ErrCorruptedState marks a session whose stored board or history cannot be
// decoded or replayed. No further transitions are attempted on it.
var ErrCorruptedState = errors.New("corrupted session state")
