package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/lobby"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/messages"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
	"github.com/tecu23/duel-server/pkg/store"
)

type outbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func newTestServer(t *testing.T) string {
	t.Helper()

	logger := zap.NewNop()
	gw := store.NewMemory(logger)
	machine := session.NewMachine(rules.NewChess())
	pub := events.NewPublisher()
	m := manager.NewManager(gw, machine, lobby.New(gw, machine, logger, pub), logger, pub, game.WithTick(20*time.Millisecond))
	hub := NewHub(m, pub, logger)
	go hub.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		player := session.PlayerRef{ID: r.URL.Query().Get("player"), DisplayName: r.URL.Query().Get("name")}
		conn := NewConnection(ws, hub, player, pub, logger)
		hub.Register(conn)
		go conn.WritePump()
		go conn.ReadPump()
	}))

	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		m.Shutdown()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, player string) *websocket.Conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?player=%s&name=%s", url, player, strings.ToUpper(player)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	expect(t, ws, messages.Connected, nil)

	return ws
}

func send(t *testing.T, ws *websocket.Conn, typ string, payload interface{}) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(messages.InboundMessage{Type: typ, Payload: raw}))
}

// expect reads until an event of type event arrives whose payload satisfies
// match, skipping everything else.
func expect(t *testing.T, ws *websocket.Conn, event string, match func(raw json.RawMessage) bool) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))

	for {
		var msg outbound
		require.NoError(t, ws.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event && (match == nil || match(msg.Payload)) {
			return msg.Payload
		}
	}
}

func state(match func(p messages.SessionStatePayload) bool) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p messages.SessionStatePayload
		return json.Unmarshal(raw, &p) == nil && match(p)
	}
}

func errorWithCode(code string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var p messages.ErrorPayload
		return json.Unmarshal(raw, &p) == nil && p.Code == code
	}
}

func TestHubPlaysAGame(t *testing.T) {
	url := newTestServer(t)

	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	send(t, alice, messages.CreateSession, messages.CreateSessionPayload{
		TimeControl: &messages.TimeControlPayload{Initial: 60000, Increment: 1000},
	})

	var created messages.SessionCreatedPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, messages.SessionCreated, nil), &created))
	id := created.SessionID

	expect(t, alice, messages.SessionState, state(func(p messages.SessionStatePayload) bool {
		return p.SessionID == id && p.Status == string(session.StatusWaiting)
	}))

	send(t, bob, messages.ListOpen, nil)
	var open messages.OpenSessionsPayload
	require.NoError(t, json.Unmarshal(expect(t, bob, messages.OpenSessions, nil), &open))
	require.Len(t, open.Sessions, 1)
	assert.Equal(t, id, open.Sessions[0].SessionID)
	assert.Equal(t, "ALICE", open.Sessions[0].First.DisplayName)

	send(t, bob, messages.Join, messages.SessionRefPayload{SessionID: id})
	active := func(p messages.SessionStatePayload) bool {
		return p.Status == string(session.StatusActive) && p.Second != nil && p.Second.ID == "bob"
	}
	expect(t, bob, messages.SessionState, state(active))
	expect(t, alice, messages.SessionState, state(active))

	send(t, bob, messages.MakeMove, messages.MakeMovePayload{SessionID: id, Move: "e7e5"})
	expect(t, bob, messages.Error, errorWithCode(string(session.CodeNotYourTurn)))

	send(t, alice, messages.MakeMove, messages.MakeMovePayload{SessionID: id, Move: "e2e4"})
	expect(t, bob, messages.SessionState, state(func(p messages.SessionStatePayload) bool {
		return p.MoveHistory == "e2e4" && p.CurrentTurn == "b"
	}))

	expect(t, bob, messages.ClockUpdate, nil)

	send(t, bob, messages.Resign, messages.SessionRefPayload{SessionID: id})
	final := expect(t, alice, messages.SessionState, state(func(p messages.SessionStatePayload) bool {
		return p.Status == string(session.StatusCompleted)
	}))

	var p messages.SessionStatePayload
	require.NoError(t, json.Unmarshal(final, &p))
	assert.Equal(t, string(session.WinnerFirst), p.Winner)
	assert.Equal(t, "Black resigns", p.EndReason)
}

func TestHubRejectsBadInput(t *testing.T) {
	url := newTestServer(t)
	ws := dial(t, url, "alice")

	send(t, ws, "DANCE", nil)
	expect(t, ws, messages.Error, errorWithCode(codeBadRequest))

	send(t, ws, messages.Attach, messages.SessionRefPayload{SessionID: "missing"})
	expect(t, ws, messages.Error, errorWithCode(codeNotFound))

	send(t, ws, messages.CreateSession, messages.CreateSessionPayload{TimeControl: &messages.TimeControlPayload{}})
	expect(t, ws, messages.Error, errorWithCode(codeBadRequest))

	send(t, ws, messages.MakeMove, messages.MakeMovePayload{SessionID: "missing", Move: "zz"})
	expect(t, ws, messages.Error, errorWithCode(string(session.CodeIllegalMove)))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrSeatTaken, string(session.CodeSeatTaken)},
		{fmt.Errorf("%w: bad fen", session.ErrCorruptedState), codeCorruptedState},
		{session.ErrAlreadyFinished, codeAlreadyFinished},
		{&game.StoreWriteError{Err: store.ErrNotFound}, codeStoreWriteFailed},
		{store.ErrNotFound, codeNotFound},
		{lobby.ErrInvalidTimeControl, codeBadRequest},
		{errors.New("boom"), codeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), tt.err.Error())
	}
}
