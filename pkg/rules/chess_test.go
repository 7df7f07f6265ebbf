package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func play(t *testing.T, e *Chess, moves ...string) (string, string) {
	t.Helper()

	board, history := e.InitialState(), ""
	for _, s := range moves {
		mv, err := ParseUCI(s)
		require.NoError(t, err)

		board, err = e.LegalMove(board, mv)
		require.NoError(t, err, "move %s", s)
		history = e.AppendToHistory(history, mv)
	}

	return board, history
}

func TestTurnOfAlternates(t *testing.T) {
	e := NewChess()

	turn, err := e.TurnOf(e.InitialState())
	require.NoError(t, err)
	assert.Equal(t, First, turn)

	board, _ := play(t, e, "e2e4")
	turn, err = e.TurnOf(board)
	require.NoError(t, err)
	assert.Equal(t, Second, turn)
}

func TestLegalMoveRejectsIllegal(t *testing.T) {
	e := NewChess()

	_, err := e.LegalMove(e.InitialState(), Move{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestLegalMoveRejectsBadBoard(t *testing.T) {
	e := NewChess()

	_, err := e.LegalMove("not a fen", Move{From: "e2", To: "e4"})
	assert.ErrorIs(t, err, ErrBadBoard)
}

func TestReplayReconstructsBoard(t *testing.T) {
	e := NewChess()
	board, history := play(t, e, "e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6")

	assert.Equal(t, "e2e4 e7e5 g1f3 b8c6 f1b5 a7a6", history)

	replayed, err := e.Replay(history)
	require.NoError(t, err)
	assert.Equal(t, board, replayed)
}

func TestReplayRejectsGarbage(t *testing.T) {
	e := NewChess()

	_, err := e.Replay("e2e4 e2e4")
	assert.ErrorIs(t, err, ErrBadHistory)
}

func TestTerminalStatus(t *testing.T) {
	e := NewChess()

	t.Run("ongoing", func(t *testing.T) {
		board, history := play(t, e, "e2e4")
		st, err := e.TerminalStatus(board, history)
		require.NoError(t, err)
		assert.False(t, st.Over())
	})

	t.Run("checkmate", func(t *testing.T) {
		board, history := play(t, e, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
		st, err := e.TerminalStatus(board, history)
		require.NoError(t, err)
		assert.Equal(t, Checkmate, st.Kind)
		assert.Equal(t, First, st.Winner)
	})

	t.Run("fools mate", func(t *testing.T) {
		board, history := play(t, e, "f2f3", "e7e5", "g2g4", "d8h4")
		st, err := e.TerminalStatus(board, history)
		require.NoError(t, err)
		assert.Equal(t, Checkmate, st.Kind)
		assert.Equal(t, Second, st.Winner)
	})

	t.Run("stalemate", func(t *testing.T) {
		st, err := e.TerminalStatus("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", "")
		require.NoError(t, err)
		assert.Equal(t, Stalemate, st.Kind)
	})

	t.Run("repetition", func(t *testing.T) {
		board, history := play(t, e,
			"g1f3", "g8f6", "f3g1", "f6g8",
			"g1f3", "g8f6", "f3g1", "f6g8",
		)
		st, err := e.TerminalStatus(board, history)
		require.NoError(t, err)
		assert.Equal(t, DrawByRepetition, st.Kind)
	})
}

func TestPromotion(t *testing.T) {
	e := NewChess()

	board, err := e.LegalMove("8/4P3/8/8/8/8/k7/4K3 w - - 0 1", Move{From: "e7", To: "e8", Promotion: "q"})
	require.NoError(t, err)
	assert.Contains(t, board, "Q")
}

func TestParseUCI(t *testing.T) {
	mv, err := ParseUCI("E7E8Q")
	require.NoError(t, err)
	assert.Equal(t, Move{From: "e7", To: "e8", Promotion: "q"}, mv)
	assert.Equal(t, "e7e8q", mv.UCI())

	_, err = ParseUCI("e2")
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestSlotOpp(t *testing.T) {
	assert.Equal(t, Second, First.Opp())
	assert.Equal(t, First, Second.Opp())
	assert.False(t, Slot("third").Valid())
}

func TestConcurrentDecode(t *testing.T) {
	e := NewChess()

	type position struct {
		board string
		move  Move
		turn  Slot
		next  string
	}

	var positions []position
	for _, line := range [][]string{
		{"e2e4"},
		{"d2d4", "d7d5"},
		{"g1f3", "g8f6", "c2c4"},
		{"e2e4", "c7c5", "g1f3", "d7d6"},
	} {
		board, _ := play(t, e, line...)
		turn, err := e.TurnOf(board)
		require.NoError(t, err)

		mv := Move{From: "a2", To: "a3"}
		if turn == Second {
			mv = Move{From: "h7", To: "h6"}
		}
		next, err := e.LegalMove(board, mv)
		require.NoError(t, err)

		positions = append(positions, position{board: board, move: mv, turn: turn, next: next})
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p := positions[(w+i)%len(positions)]

				turn, err := e.TurnOf(p.board)
				assert.NoError(t, err)
				assert.Equal(t, p.turn, turn)

				next, err := e.LegalMove(p.board, p.move)
				assert.NoError(t, err)
				assert.Equal(t, p.next, next)

				_, err = e.Replay("e2e4 e7e5")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()
}
