package messages

// Outbound event types.
const (
	Connected      = "CONNECTED"
	SessionCreated = "SESSION_CREATED"
	OpenSessions   = "OPEN_SESSIONS"
	SessionState   = "SESSION_STATE"
	ClockUpdate    = "CLOCK_UPDATE"
	Error          = "ERROR"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
	PlayerID     string `json:"player_id"`
}

// SessionCreatedPayload is sent to the creator of a session
type SessionCreatedPayload struct {
	SessionID string `json:"session_id"`
}

type PlayerPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

type SessionSummaryPayload struct {
	SessionID   string              `json:"session_id"`
	First       PlayerPayload       `json:"first"`
	TimeControl *TimeControlPayload `json:"time_control,omitempty"`
	CreatedAt   int64               `json:"created_at"`
}

type OpenSessionsPayload struct {
	Sessions []SessionSummaryPayload `json:"sessions"`
}

// SessionStatePayload carries a new version of a session. Times are in
// milliseconds; untimed sessions omit them.
type SessionStatePayload struct {
	SessionID   string         `json:"session_id"`
	Version     int64          `json:"version"`
	BoardFEN    string         `json:"board_fen"`
	MoveHistory string         `json:"move_history"`
	Status      string         `json:"status"`
	CurrentTurn string         `json:"current_turn,omitempty"`
	First       PlayerPayload  `json:"first"`
	Second      *PlayerPayload `json:"second,omitempty"`
	Winner      string         `json:"winner,omitempty"`
	EndReason   string         `json:"end_reason,omitempty"`
	DrawOffer   string         `json:"draw_offer,omitempty"`
	FirstTime   *int64         `json:"first_time,omitempty"`
	SecondTime  *int64         `json:"second_time,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// ClockUpdatePayload is the display-only clock refresh sent on every tick
type ClockUpdatePayload struct {
	SessionID     string `json:"session_id"`
	CurrentTurn   string `json:"current_turn"`
	FirstTime     int64  `json:"first_time"`
	SecondTime    int64  `json:"second_time"`
	FirstDisplay  string `json:"first_display"`
	SecondDisplay string `json:"second_display"`
}

type ErrorPayload struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}
