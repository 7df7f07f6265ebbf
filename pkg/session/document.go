// Package session holds the shared game document and the pure transition
// functions that decide how it may change. Nothing in this package performs
// I/O; callers pass a snapshot and the current wall-clock time and get back
// the next snapshot or a rejection.
package session

import (
	"time"

	"github.com/tecu23/duel-server/pkg/rules"
)

// Status is the lifecycle state of a session.
type Status string

// Lifecycle states. Completed and Aborted are terminal.
const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Winner records the result of a completed session.
type Winner string

// Possible results. WinnerNone is the zero value.
const (
	WinnerNone   Winner = ""
	WinnerFirst  Winner = "first"
	WinnerSecond Winner = "second"
	WinnerDraw   Winner = "draw"
)

// WinnerOf converts a seat into the matching result.
func WinnerOf(s rules.Slot) Winner {
	if s == rules.First {
		return WinnerFirst
	}

	return WinnerSecond
}

// PlayerRef identifies a participant.
type PlayerRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// Players holds both seats. Second is nil until someone joins.
type Players struct {
	First  PlayerRef  `json:"first"`
	Second *PlayerRef `json:"second,omitempty"`
}

// TimeControl defines the time budget of a timed game.
type TimeControl struct {
	Initial   time.Duration `json:"initial"`
	Increment time.Duration `json:"increment"`
}

// GameSession is the shared document for one game. Remaining budgets are
// the values as of LastMoveAt; live values are derived with Remaining.
type GameSession struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`

	BoardState  string `json:"board_state"`
	MoveHistory string `json:"move_history"`

	Players   Players `json:"players"`
	Status    Status  `json:"status"`
	Winner    Winner  `json:"winner,omitempty"`
	EndReason string  `json:"end_reason,omitempty"`

	TimeControl     *TimeControl   `json:"time_control,omitempty"`
	FirstRemaining  *time.Duration `json:"first_remaining,omitempty"`
	SecondRemaining *time.Duration `json:"second_remaining,omitempty"`
	LastMoveAt      *time.Time     `json:"last_move_at,omitempty"`

	DrawOffer string `json:"draw_offer,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a waiting session. When tc is non-nil both budgets start at
// tc.Initial.
func New(id string, first PlayerRef, tc *TimeControl, board string, now time.Time) GameSession {
	s := GameSession{
		ID:         id,
		BoardState: board,
		Players:    Players{First: first},
		Status:     StatusWaiting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if tc != nil {
		t := *tc
		s.TimeControl = &t
		s.FirstRemaining = durationPtr(tc.Initial)
		s.SecondRemaining = durationPtr(tc.Initial)
	}

	return s
}

// Timed reports whether the session runs a clock.
func (s GameSession) Timed() bool {
	return s.TimeControl != nil
}

// SlotOf returns the seat bound to playerID.
func (s GameSession) SlotOf(playerID string) (rules.Slot, bool) {
	if playerID == "" {
		return "", false
	}
	if s.Players.First.ID == playerID {
		return rules.First, true
	}
	if s.Players.Second != nil && s.Players.Second.ID == playerID {
		return rules.Second, true
	}

	return "", false
}

// Player returns the participant in seat slot, or nil when unbound.
func (s GameSession) Player(slot rules.Slot) *PlayerRef {
	if slot == rules.First {
		p := s.Players.First
		return &p
	}
	if s.Players.Second == nil {
		return nil
	}

	p := *s.Players.Second
	return &p
}

// Stored returns the stored (as of LastMoveAt) budget of slot.
func (s GameSession) Stored(slot rules.Slot) time.Duration {
	var p *time.Duration
	if slot == rules.First {
		p = s.FirstRemaining
	} else {
		p = s.SecondRemaining
	}
	if p == nil {
		return 0
	}

	return *p
}

func (s *GameSession) setStored(slot rules.Slot, d time.Duration) {
	if slot == rules.First {
		s.FirstRemaining = durationPtr(d)
		return
	}
	s.SecondRemaining = durationPtr(d)
}

// Baseline is the instant the running clock was last reset.
func (s GameSession) Baseline() time.Time {
	if s.LastMoveAt != nil {
		return *s.LastMoveAt
	}

	return s.CreatedAt
}

// Clone returns a deep copy so transitions never alias the caller's pointers.
func (s GameSession) Clone() GameSession {
	c := s
	if s.Players.Second != nil {
		p := *s.Players.Second
		c.Players.Second = &p
	}
	if s.TimeControl != nil {
		tc := *s.TimeControl
		c.TimeControl = &tc
	}
	if s.FirstRemaining != nil {
		c.FirstRemaining = durationPtr(*s.FirstRemaining)
	}
	if s.SecondRemaining != nil {
		c.SecondRemaining = durationPtr(*s.SecondRemaining)
	}
	if s.LastMoveAt != nil {
		t := *s.LastMoveAt
		c.LastMoveAt = &t
	}

	return c
}

// Summary is the lobby projection of a session.
type Summary struct {
	ID          string       `json:"id"`
	First       PlayerRef    `json:"first"`
	TimeControl *TimeControl `json:"time_control,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Summarize projects s for listing.
func (s GameSession) Summarize() Summary {
	sum := Summary{ID: s.ID, First: s.Players.First, CreatedAt: s.CreatedAt}
	if s.TimeControl != nil {
		tc := *s.TimeControl
		sum.TimeControl = &tc
	}

	return sum
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
