package lobby_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/lobby"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

var (
	t0    = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alice = session.PlayerRef{ID: "alice", DisplayName: "Alice"}
	bob   = session.PlayerRef{ID: "bob", DisplayName: "Bob"}
)

type env struct {
	gw      *store.Memory
	machine *session.Machine
	pub     *events.Publisher
	now     time.Time
	lobby   *lobby.Lobby
}

func newEnv() *env {
	e := &env{
		gw:      store.NewMemory(zap.NewNop()),
		machine: session.NewMachine(rules.NewChess()),
		pub:     events.NewPublisher(),
		now:     t0,
	}
	e.lobby = lobby.New(e.gw, e.machine, zap.NewNop(), e.pub, lobby.WithClock(func() time.Time { return e.now }))

	return e
}

func TestCreate(t *testing.T) {
	e := newEnv()

	s, err := e.lobby.Create(context.Background(), alice, &session.TimeControl{Initial: 3 * time.Minute, Increment: 2 * time.Second})
	require.NoError(t, err)

	_, err = uuid.Parse(s.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)
	assert.Equal(t, session.StatusWaiting, s.Status)
	assert.Equal(t, "alice", s.Players.First.ID)
	assert.Equal(t, 3*time.Minute, s.Stored(rules.First))

	got, err := e.gw.Read(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.BoardState, got.BoardState)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	_, err := e.lobby.Create(ctx, session.PlayerRef{}, nil)
	assert.ErrorIs(t, err, lobby.ErrMissingPlayer)

	_, err = e.lobby.Create(ctx, alice, &session.TimeControl{})
	assert.ErrorIs(t, err, lobby.ErrInvalidTimeControl)

	_, err = e.lobby.Create(ctx, alice, &session.TimeControl{Initial: time.Minute, Increment: -time.Second})
	assert.ErrorIs(t, err, lobby.ErrInvalidTimeControl)
}

func TestListOpenExcludesStarted(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	first, err := e.lobby.Create(ctx, alice, nil)
	require.NoError(t, err)

	e.now = t0.Add(time.Minute)
	second, err := e.lobby.Create(ctx, alice, nil)
	require.NoError(t, err)

	joined, err := e.machine.Join(first, bob, e.now)
	require.NoError(t, err)
	_, err = e.gw.Write(ctx, joined, first.Version)
	require.NoError(t, err)

	open, err := e.lobby.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)
	assert.Equal(t, "Alice", open[0].First.DisplayName)
}

func TestJanitorExpiresStaleSessions(t *testing.T) {
	e := newEnv()
	ctx := context.Background()

	aborted := make(chan string, 4)
	e.pub.Subscribe(events.EventGameAborted, func(ev events.Event) {
		aborted <- ev.SessionID
	})

	stale, err := e.lobby.Create(ctx, alice, nil)
	require.NoError(t, err)

	started, err := e.lobby.Create(ctx, alice, nil)
	require.NoError(t, err)
	joined, err := e.machine.Join(started, bob, e.now)
	require.NoError(t, err)
	_, err = e.gw.Write(ctx, joined, started.Version)
	require.NoError(t, err)

	e.now = t0.Add(23 * time.Hour)
	fresh, err := e.lobby.Create(ctx, alice, nil)
	require.NoError(t, err)

	e.now = t0.Add(25 * time.Hour)

	j, err := lobby.NewJanitor(e.lobby, "@hourly", 24*time.Hour)
	require.NoError(t, err)

	n, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.gw.Read(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, got.Status)
	assert.Equal(t, session.WinnerNone, got.Winner)

	got, err = e.gw.Read(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)

	open, err := e.lobby.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, fresh.ID, open[0].ID)

	e.pub.Wait()
	require.Len(t, aborted, 1)
	assert.Equal(t, stale.ID, <-aborted)
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	e := newEnv()

	_, err := lobby.NewJanitor(e.lobby, "every now and then", time.Hour)
	assert.Error(t, err)
}

func TestJanitorStartStop(t *testing.T) {
	e := newEnv()

	j, err := lobby.NewJanitor(e.lobby, "@every 1h", time.Hour)
	require.NoError(t, err)

	j.Start()
	assert.NotPanics(t, j.Stop)
}
