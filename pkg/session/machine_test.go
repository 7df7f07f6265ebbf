package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
)

var (
	t0    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alice = session.PlayerRef{ID: "alice", DisplayName: "Alice"}
	bob   = session.PlayerRef{ID: "bob", DisplayName: "Bob"}
	carol = session.PlayerRef{ID: "carol", DisplayName: "Carol"}
)

func newMachine() *session.Machine {
	return session.NewMachine(rules.NewChess())
}

func blitz() *session.TimeControl {
	return &session.TimeControl{Initial: 300 * time.Second, Increment: 3 * time.Second}
}

func mustMove(t *testing.T, m *session.Machine, s session.GameSession, player, uci string, at time.Time) session.GameSession {
	t.Helper()

	mv, err := rules.ParseUCI(uci)
	require.NoError(t, err)

	next, err := m.ApplyMove(s, player, mv, at)
	require.NoError(t, err, "move %s by %s", uci, player)

	return next
}

func started(t *testing.T, m *session.Machine, tc *session.TimeControl) session.GameSession {
	t.Helper()

	s := m.Create("g1", alice, tc, t0)
	s, err := m.Join(s, bob, t0)
	require.NoError(t, err)

	return s
}

func TestCreateTimedSession(t *testing.T) {
	m := newMachine()
	s := m.Create("g1", alice, blitz(), t0)

	assert.Equal(t, session.StatusWaiting, s.Status)
	assert.Nil(t, s.Players.Second)
	assert.Nil(t, s.LastMoveAt)
	assert.Equal(t, 300*time.Second, s.Stored(rules.First))
	assert.Equal(t, 300*time.Second, s.Stored(rules.Second))
	assert.Empty(t, s.MoveHistory)
}

func TestJoin(t *testing.T) {
	m := newMachine()
	s := m.Create("g1", alice, blitz(), t0)

	joined, err := m.Join(s, bob, t0.Add(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, session.StatusActive, joined.Status)
	require.NotNil(t, joined.Players.Second)
	assert.Equal(t, "bob", joined.Players.Second.ID)
	require.NotNil(t, joined.LastMoveAt)
	assert.Equal(t, t0.Add(5*time.Second), *joined.LastMoveAt)
	assert.Equal(t, 300*time.Second, joined.Stored(rules.First))
	assert.Equal(t, 300*time.Second, joined.Stored(rules.Second))

	assert.Equal(t, session.StatusWaiting, s.Status, "input snapshot must not change")
	assert.Nil(t, s.Players.Second)
}

func TestJoinRejections(t *testing.T) {
	m := newMachine()
	waiting := m.Create("g1", alice, nil, t0)

	_, err := m.Join(waiting, alice, t0)
	assert.ErrorIs(t, err, session.ErrCannotJoinOwnGame)

	active, err := m.Join(waiting, bob, t0)
	require.NoError(t, err)

	_, err = m.Join(active, carol, t0)
	assert.ErrorIs(t, err, session.ErrSeatTaken)

	aborted, err := m.Abort(waiting, "alice", t0)
	require.NoError(t, err)
	_, err = m.Join(aborted, carol, t0)
	assert.ErrorIs(t, err, session.ErrGameNotWaiting)
}

func TestConcurrentJoinOnlyOneWins(t *testing.T) {
	m := newMachine()
	waiting := m.Create("g1", alice, nil, t0)

	first, err := m.Join(waiting, bob, t0)
	require.NoError(t, err)

	// The second joiner re-reads the persisted document and sees the seat bound.
	_, err = m.Join(first, carol, t0)
	assert.ErrorIs(t, err, session.ErrSeatTaken)
	assert.Equal(t, "bob", first.Players.Second.ID)
}

func TestMoveRejections(t *testing.T) {
	m := newMachine()
	s := started(t, m, nil)
	e2e4 := rules.Move{From: "e2", To: "e4"}

	tests := []struct {
		name   string
		s      session.GameSession
		player string
		move   rules.Move
		want   error
	}{
		{"not your turn", s, "bob", rules.Move{From: "e7", To: "e5"}, session.ErrNotYourTurn},
		{"not a participant", s, "carol", e2e4, session.ErrNotAParticipant},
		{"illegal", s, "alice", rules.Move{From: "e2", To: "e5"}, session.ErrIllegalMove},
		{"waiting", m.Create("g2", alice, nil, t0), "alice", e2e4, session.ErrGameNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.s.Clone()

			got, err := m.ApplyMove(tt.s, tt.player, tt.move, t0.Add(time.Second))
			assert.ErrorIs(t, err, tt.want)

			var verr *session.ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, before, got)
			assert.Equal(t, before, tt.s)
		})
	}
}

func TestMoveUpdatesClocks(t *testing.T) {
	m := newMachine()
	s := started(t, m, blitz())

	s = mustMove(t, m, s, "alice", "e2e4", t0.Add(10*time.Second))
	assert.Equal(t, 293*time.Second, s.Stored(rules.First))
	assert.Equal(t, 300*time.Second, s.Stored(rules.Second))
	assert.Equal(t, t0.Add(10*time.Second), *s.LastMoveAt)

	s = mustMove(t, m, s, "bob", "e7e5", t0.Add(14*time.Second))
	assert.Equal(t, 293*time.Second, s.Stored(rules.First))
	assert.Equal(t, 299*time.Second, s.Stored(rules.Second))
}

func TestMoveRoundTripsHistory(t *testing.T) {
	m := newMachine()
	s := started(t, m, nil)

	moves := []struct{ player, uci string }{
		{"alice", "d2d4"}, {"bob", "d7d5"}, {"alice", "c2c4"}, {"bob", "e7e6"},
		{"alice", "b1c3"}, {"bob", "g8f6"}, {"alice", "c1g5"}, {"bob", "f8e7"},
	}
	for i, mv := range moves {
		s = mustMove(t, m, s, mv.player, mv.uci, t0.Add(time.Duration(i+1)*time.Second))
		require.NoError(t, m.Verify(s))
	}

	board, err := m.Rules().Replay(s.MoveHistory)
	require.NoError(t, err)
	assert.Equal(t, s.BoardState, board)
}

func TestCheckmateCompletes(t *testing.T) {
	m := newMachine()
	s := started(t, m, nil)

	for i, uci := range []string{"e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7"} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		s = mustMove(t, m, s, player, uci, t0.Add(time.Duration(i+1)*time.Second))
	}

	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Equal(t, session.WinnerFirst, s.Winner)
	assert.Equal(t, "Checkmate! White wins.", s.EndReason)
}

func TestTimeout(t *testing.T) {
	m := newMachine()
	s := started(t, m, blitz())
	s = mustMove(t, m, s, "alice", "e2e4", t0.Add(time.Second))

	_, err := m.Timeout(s, t0.Add(200*time.Second))
	assert.ErrorIs(t, err, session.ErrNotTimedOut)

	done, err := m.Timeout(s, t0.Add(301*time.Second))
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, done.Status)
	assert.Equal(t, session.WinnerFirst, done.Winner)
	assert.Equal(t, "Black forfeits on time", done.EndReason)
	assert.Equal(t, 300*time.Second, done.Stored(rules.Second), "timeout never rewrites stored budgets")

	_, err = m.Timeout(done, t0.Add(400*time.Second))
	assert.ErrorIs(t, err, session.ErrAlreadyFinished)
}

func TestTimeoutUntimed(t *testing.T) {
	m := newMachine()
	s := started(t, m, nil)

	_, err := m.Timeout(s, t0.Add(24*time.Hour))
	assert.ErrorIs(t, err, session.ErrNotTimedOut)
}

func TestCompletedIsTerminal(t *testing.T) {
	m := newMachine()
	s := started(t, m, blitz())

	done, err := m.Resign(s, "bob", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, session.WinnerFirst, done.Winner)
	assert.Equal(t, "Black resigns", done.EndReason)

	at := t0.Add(time.Hour)
	_, err = m.ApplyMove(done, "alice", rules.Move{From: "e2", To: "e4"}, at)
	assert.ErrorIs(t, err, session.ErrGameNotActive)
	_, err = m.OfferDraw(done, "alice", at)
	assert.ErrorIs(t, err, session.ErrGameNotActive)
	_, err = m.AcceptDraw(done, "bob", at)
	assert.ErrorIs(t, err, session.ErrGameNotActive)
	_, err = m.Resign(done, "alice", at)
	assert.ErrorIs(t, err, session.ErrGameNotActive)
	_, err = m.Timeout(done, at)
	assert.ErrorIs(t, err, session.ErrAlreadyFinished)
	_, err = m.Abort(done, "alice", at)
	assert.ErrorIs(t, err, session.ErrAlreadyFinished)
}

func TestAbort(t *testing.T) {
	m := newMachine()
	waiting := m.Create("g1", alice, nil, t0)

	_, err := m.Abort(waiting, "carol", t0)
	assert.ErrorIs(t, err, session.ErrNotAParticipant)

	aborted, err := m.Abort(waiting, "alice", t0)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, aborted.Status)
	assert.Equal(t, session.WinnerNone, aborted.Winner)

	active := started(t, m, nil)
	aborted, err = m.Abort(active, "bob", t0)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, aborted.Status)

	moved := mustMove(t, m, active, "alice", "e2e4", t0.Add(time.Second))
	_, err = m.Abort(moved, "alice", t0.Add(2*time.Second))
	assert.ErrorIs(t, err, session.ErrAbortNotAllowed)
}

func TestExpire(t *testing.T) {
	m := newMachine()

	expired, err := m.Expire(m.Create("g1", alice, nil, t0), t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, expired.Status)

	_, err = m.Expire(started(t, m, nil), t0)
	assert.ErrorIs(t, err, session.ErrGameNotWaiting)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	m := newMachine()
	s := started(t, m, nil)
	s = mustMove(t, m, s, "alice", "e2e4", t0.Add(time.Second))

	tampered := s.Clone()
	tampered.MoveHistory = "d2d4"
	assert.ErrorIs(t, m.Verify(tampered), session.ErrCorruptedState)

	garbage := s.Clone()
	garbage.BoardState = "garbage"
	assert.ErrorIs(t, m.Verify(garbage), session.ErrCorruptedState)

	_, err := m.ApplyMove(garbage, "bob", rules.Move{From: "e7", To: "e5"}, t0)
	assert.ErrorIs(t, err, session.ErrCorruptedState)
}
