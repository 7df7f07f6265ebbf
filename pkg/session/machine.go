package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/tecu23/duel-server/internal/color"
	"github.com/tecu23/duel-server/pkg/rules"
)

// End reasons written alongside the winner.
const (
	ReasonAgreement  = "Draw by agreement"
	ReasonStalemate  = "Stalemate!"
	ReasonRepetition = "Draw by repetition!"
	ReasonDraw       = "Draw!"
)

// Machine owns the legal transitions of a session. Every method is a pure
// function of its inputs: it never mutates the snapshot it is given.
type Machine struct {
	rules rules.Engine
}

// NewMachine returns a state machine backed by the given rules engine.
func NewMachine(e rules.Engine) *Machine {
	return &Machine{rules: e}
}

// Rules exposes the underlying rules engine.
func (m *Machine) Rules() rules.Engine {
	return m.rules
}

// Create returns a new waiting session at the initial position.
func (m *Machine) Create(id string, first PlayerRef, tc *TimeControl, now time.Time) GameSession {
	return New(id, first, tc, m.rules.InitialState(), now)
}

// Verify checks that the stored history replays to the stored board.
func (m *Machine) Verify(s GameSession) error {
	if _, err := m.rules.TurnOf(s.BoardState); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}

	board, err := m.rules.Replay(s.MoveHistory)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	if board != s.BoardState {
		return fmt.Errorf("%w: history replays to %q, board is %q", ErrCorruptedState, board, s.BoardState)
	}

	return nil
}

// Turn returns the seat to move.
func (m *Machine) Turn(s GameSession) (rules.Slot, error) {
	return m.turn(s)
}

func (m *Machine) turn(s GameSession) (rules.Slot, error) {
	slot, err := m.rules.TurnOf(s.BoardState)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}

	return slot, nil
}

// Join binds the second seat and starts the game. The clock baseline for
// the opening move is the join time.
func (m *Machine) Join(s GameSession, player PlayerRef, now time.Time) (GameSession, error) {
	if player.ID == "" {
		return s, reject(CodeNotAParticipant, "player id is required")
	}
	if s.Players.Second != nil {
		return s, ErrSeatTaken
	}
	if s.Status != StatusWaiting {
		return s, ErrGameNotWaiting
	}
	if player.ID == s.Players.First.ID {
		return s, ErrCannotJoinOwnGame
	}

	next := s.Clone()
	p := player
	next.Players.Second = &p
	next.Status = StatusActive
	next.LastMoveAt = &now
	next.UpdatedAt = now

	if next.Timed() {
		if next.FirstRemaining == nil {
			next.setStored(rules.First, next.TimeControl.Initial)
		}
		if next.SecondRemaining == nil {
			next.setStored(rules.Second, next.TimeControl.Initial)
		}
	}

	return next, nil
}

// ApplyMove validates and applies mv for playerID. The next document is
// derived only from s, mv and the rules engine, so the stored history
// always replays to the stored board.
func (m *Machine) ApplyMove(s GameSession, playerID string, mv rules.Move, now time.Time) (GameSession, error) {
	slot, err := m.actor(s, playerID)
	if err != nil {
		return s, err
	}

	turn, err := m.turn(s)
	if err != nil {
		return s, err
	}
	if turn != slot {
		return s, ErrNotYourTurn
	}

	// A fallen flag is left for Timeout; the increment must not revive it.
	if s.Timed() && s.Stored(slot)-Elapsed(s, now) <= 0 {
		return s, ErrFlagFallen
	}

	board, err := m.rules.LegalMove(s.BoardState, mv)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return s, &ValidationError{Code: CodeIllegalMove, Message: "illegal move " + mv.UCI(), Cause: err}
		}
		return s, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}

	next := s.Clone()
	if next.Timed() {
		next.setStored(slot, StoredAfterMove(s.Stored(slot), Elapsed(s, now), s.TimeControl.Increment))
	}

	next.DrawOffer = ""
	next.MoveHistory = m.rules.AppendToHistory(s.MoveHistory, mv)
	next.BoardState = board
	next.LastMoveAt = &now
	next.UpdatedAt = now

	status, err := m.rules.TerminalStatus(next.BoardState, next.MoveHistory)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	if status.Over() {
		winner, reason := outcome(status)
		next.complete(winner, reason, now)
	}

	return next, nil
}

// Timeout records a loss on time for whichever seat has flagged.
func (m *Machine) Timeout(s GameSession, now time.Time) (GameSession, error) {
	if s.Status.Terminal() {
		return s, ErrAlreadyFinished
	}
	if s.Status != StatusActive {
		return s, ErrGameNotActive
	}

	loser, flagged, err := m.Flagged(s, now)
	if err != nil {
		return s, err
	}
	if !flagged {
		return s, ErrNotTimedOut
	}

	next := s.Clone()
	next.complete(WinnerOf(loser.Opp()), color.Of(loser).Name()+" forfeits on time", now)

	return next, nil
}

// Resign ends the game in favour of the opponent.
func (m *Machine) Resign(s GameSession, playerID string, now time.Time) (GameSession, error) {
	slot, err := m.actor(s, playerID)
	if err != nil {
		return s, err
	}

	next := s.Clone()
	next.complete(WinnerOf(slot.Opp()), color.Of(slot).Name()+" resigns", now)

	return next, nil
}

// Abort cancels a session without a result. The creator may abort while
// waiting; either participant may abort an active game before the first
// move.
func (m *Machine) Abort(s GameSession, playerID string, now time.Time) (GameSession, error) {
	if s.Status.Terminal() {
		return s, ErrAlreadyFinished
	}

	slot, ok := s.SlotOf(playerID)
	if !ok {
		return s, ErrNotAParticipant
	}

	switch s.Status {
	case StatusWaiting:
		if slot != rules.First {
			return s, ErrAbortNotAllowed
		}
	case StatusActive:
		if s.MoveHistory != "" {
			return s, ErrAbortNotAllowed
		}
	}

	return s.abort(now), nil
}

// Expire aborts a waiting session on behalf of the system.
func (m *Machine) Expire(s GameSession, now time.Time) (GameSession, error) {
	if s.Status.Terminal() {
		return s, ErrAlreadyFinished
	}
	if s.Status != StatusWaiting {
		return s, ErrGameNotWaiting
	}

	return s.abort(now), nil
}

// actor resolves the seat of playerID in an active session.
func (m *Machine) actor(s GameSession, playerID string) (rules.Slot, error) {
	if s.Status != StatusActive {
		return "", ErrGameNotActive
	}

	slot, ok := s.SlotOf(playerID)
	if !ok {
		return "", ErrNotAParticipant
	}

	return slot, nil
}

func (s GameSession) abort(now time.Time) GameSession {
	next := s.Clone()
	next.Status = StatusAborted
	next.DrawOffer = ""
	next.UpdatedAt = now

	return next
}

func (s *GameSession) complete(w Winner, reason string, now time.Time) {
	s.Status = StatusCompleted
	s.Winner = w
	s.EndReason = reason
	s.DrawOffer = ""
	s.UpdatedAt = now
}

func outcome(st rules.Status) (Winner, string) {
	switch st.Kind {
	case rules.Checkmate:
		return WinnerOf(st.Winner), fmt.Sprintf("Checkmate! %s wins.", color.Of(st.Winner).Name())
	case rules.Stalemate:
		return WinnerDraw, ReasonStalemate
	case rules.DrawByRepetition:
		return WinnerDraw, ReasonRepetition
	default:
		return WinnerDraw, ReasonDraw
	}
}
