// Package rules adapts a chess move generator to the small surface the
// session engine needs: turn order, move legality, terminal detection and
// the serialized board/history formats.
package rules

import (
	"errors"
	"strings"
)

var (
	// ErrIllegalMove is returned when a move is not legal in the given position.
	ErrIllegalMove = errors.New("illegal move")
	// ErrBadBoard is returned when a serialized board state cannot be decoded.
	ErrBadBoard = errors.New("malformed board state")
	// ErrBadHistory is returned when a serialized history cannot be replayed.
	ErrBadHistory = errors.New("malformed move history")
)

// Slot identifies one of the two seats at a game.
type Slot string

// The two seats. First moves first.
const (
	First  Slot = "first"
	Second Slot = "second"
)

// Opp returns the other seat.
func (s Slot) Opp() Slot {
	if s == First {
		return Second
	}

	return First
}

// Valid reports whether s names one of the two seats.
func (s Slot) Valid() bool {
	return s == First || s == Second
}

// Move is a single move from one square to another, with an optional
// promotion piece ("q", "r", "b", "n").
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in long algebraic (UCI) notation.
func (m Move) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

// ParseUCI splits a UCI string such as "e7e8q" into a Move.
func ParseUCI(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, ErrIllegalMove
	}

	return Move{From: s[0:2], To: s[2:4], Promotion: s[4:]}, nil
}

// Terminal enumerates how a position can end the game.
type Terminal int

// Terminal kinds reported by TerminalStatus.
const (
	None Terminal = iota
	Checkmate
	Stalemate
	DrawByRepetition
	Draw
)

func (t Terminal) String() string {
	switch t {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case DrawByRepetition:
		return "draw_by_repetition"
	case Draw:
		return "draw"
	default:
		return "none"
	}
}

// Status is the terminal status of a position. Winner is only set for
// Checkmate.
type Status struct {
	Kind   Terminal
	Winner Slot
}

// Over reports whether the position ends the game.
func (s Status) Over() bool {
	return s.Kind != None
}

// Engine is the rules capability consumed by the session state machine.
// Boards and histories are opaque strings to every caller.
type Engine interface {
	// InitialState returns the serialized starting position.
	InitialState() string
	// TurnOf reports which seat is to move in board.
	TurnOf(board string) (Slot, error)
	// LegalMove validates mv against board and returns the next board.
	LegalMove(board string, mv Move) (string, error)
	// TerminalStatus reports whether board ends the game. history is used
	// for repetition detection and may be empty.
	TerminalStatus(board, history string) (Status, error)
	// AppendToHistory returns history with mv appended.
	AppendToHistory(history string, mv Move) string
	// Replay plays history from the initial position and returns the board.
	Replay(history string) (string, error)
}
