package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/corentings/chess/v2"
)

// The library decodes FEN through a package-level rank buffer, so every
// board it builds goes through newGame.
var decodeMu sync.Mutex

func newGame(board string) (*chess.Game, error) {
	decodeMu.Lock()
	defer decodeMu.Unlock()

	if board == "" {
		return chess.NewGame(), nil
	}

	opt, err := chess.FEN(board)
	if err != nil {
		return nil, err
	}

	return chess.NewGame(opt), nil
}

// Chess implements Engine for standard chess. Boards are FEN strings and
// histories are space separated UCI moves.
type Chess struct{}

// NewChess returns the standard chess rules engine.
func NewChess() *Chess {
	return &Chess{}
}

// InitialState returns the FEN of the standard starting position.
func (c *Chess) InitialState() string {
	g, _ := newGame("")
	return g.FEN()
}

// TurnOf returns First when white is to move and Second otherwise.
func (c *Chess) TurnOf(board string) (Slot, error) {
	g, err := load(board)
	if err != nil {
		return "", err
	}

	return slotOf(g.Position().Turn()), nil
}

// LegalMove applies mv to board if it is legal.
func (c *Chess) LegalMove(board string, mv Move) (string, error) {
	g, err := load(board)
	if err != nil {
		return "", err
	}

	if err := push(g, mv.UCI()); err != nil {
		return "", err
	}

	return g.FEN(), nil
}

// TerminalStatus reports checkmate, stalemate and draws for board. Draws
// the library only marks as claimable (threefold repetition, fifty moves)
// are final.
func (c *Chess) TerminalStatus(board, history string) (Status, error) {
	g, err := load(board)
	if err != nil {
		return Status{}, err
	}

	if st, ok := outcomeStatus(g); ok {
		return st, nil
	}

	if strings.TrimSpace(history) != "" {
		replayed, err := replay(history)
		if err != nil {
			return Status{}, err
		}

		if st, ok := outcomeStatus(replayed); ok {
			return st, nil
		}

		for _, m := range replayed.EligibleDraws() {
			if m == chess.ThreefoldRepetition {
				return Status{Kind: DrawByRepetition}, nil
			}
		}
	}

	for _, m := range g.EligibleDraws() {
		if m == chess.FiftyMoveRule {
			return Status{Kind: Draw}, nil
		}
	}

	return Status{Kind: None}, nil
}

// AppendToHistory appends the UCI form of mv.
func (c *Chess) AppendToHistory(history string, mv Move) string {
	history = strings.TrimSpace(history)
	if history == "" {
		return mv.UCI()
	}

	return history + " " + mv.UCI()
}

// Replay rebuilds the board reached by history from the start position.
func (c *Chess) Replay(history string) (string, error) {
	g, err := replay(history)
	if err != nil {
		return "", err
	}

	return g.FEN(), nil
}

func load(board string) (*chess.Game, error) {
	if strings.TrimSpace(board) == "" {
		return nil, fmt.Errorf("%w: empty board", ErrBadBoard)
	}

	g, err := newGame(board)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBoard, err)
	}

	return g, nil
}

func replay(history string) (*chess.Game, error) {
	g, _ := newGame("")
	for i, uci := range strings.Fields(history) {
		if err := push(g, uci); err != nil {
			return nil, fmt.Errorf("%w: move %d %q: %v", ErrBadHistory, i+1, uci, err)
		}
	}

	return g, nil
}

func push(g *chess.Game, uci string) error {
	if g.Outcome() != chess.NoOutcome {
		return fmt.Errorf("%w: game is over", ErrIllegalMove)
	}

	mv, err := chess.UCINotation{}.Decode(g.Position(), uci)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	if err := g.Move(mv, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}

	return nil
}

func outcomeStatus(g *chess.Game) (Status, bool) {
	switch g.Outcome() {
	case chess.WhiteWon:
		return Status{Kind: Checkmate, Winner: First}, true
	case chess.BlackWon:
		return Status{Kind: Checkmate, Winner: Second}, true
	case chess.Draw:
		switch g.Method() {
		case chess.Stalemate:
			return Status{Kind: Stalemate}, true
		case chess.ThreefoldRepetition, chess.FivefoldRepetition:
			return Status{Kind: DrawByRepetition}, true
		default:
			return Status{Kind: Draw}, true
		}
	}

	return Status{}, false
}

func slotOf(c chess.Color) Slot {
	if c == chess.White {
		return First
	}

	return Second
}
