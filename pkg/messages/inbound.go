package messages

import "encoding/json"

// Inbound event types.
const (
	CreateSession = "CREATE_SESSION"
	ListOpen      = "LIST_OPEN"
	Attach        = "ATTACH"
	Detach        = "DETACH"
	Join          = "JOIN"
	MakeMove      = "MAKE_MOVE"
	OfferDraw     = "OFFER_DRAW"
	AcceptDraw    = "ACCEPT_DRAW"
	DeclineDraw   = "DECLINE_DRAW"
	Resign        = "RESIGN"
	Abort         = "ABORT"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TimeControlPayload is a time budget in milliseconds
type TimeControlPayload struct {
	Initial   int64 `json:"initial"`
	Increment int64 `json:"increment"`
}

// CreateSessionPayload represents the payload for opening a new session. A
// missing time control creates an untimed game.
type CreateSessionPayload struct {
	TimeControl *TimeControlPayload `json:"time_control,omitempty"`
}

// SessionRefPayload names the session an action applies to
type SessionRefPayload struct {
	SessionID string `json:"session_id"`
}

// MakeMovePayload represents the payload for making a move during a game.
// Move is in UCI notation ("e2e4", "e7e8q").
type MakeMovePayload struct {
	SessionID string `json:"session_id"`
	Move      string `json:"move"`
}
