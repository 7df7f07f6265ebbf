package server

import (
	"time"

	"github.com/tecu23/duel-server/internal/color"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/messages"
	"github.com/tecu23/duel-server/pkg/session"
)

func playerPayload(p session.PlayerRef) messages.PlayerPayload {
	return messages.PlayerPayload{ID: p.ID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef}
}

func timeControlPayload(tc *session.TimeControl) *messages.TimeControlPayload {
	if tc == nil {
		return nil
	}

	return &messages.TimeControlPayload{
		Initial:   tc.Initial.Milliseconds(),
		Increment: tc.Increment.Milliseconds(),
	}
}

func millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}

func sessionStatePayload(v game.View) messages.SessionStatePayload {
	s := v.Session
	p := messages.SessionStatePayload{
		SessionID:   s.ID,
		Version:     s.Version,
		BoardFEN:    s.BoardState,
		MoveHistory: s.MoveHistory,
		Status:      string(s.Status),
		First:       playerPayload(s.Players.First),
		Winner:      string(s.Winner),
		EndReason:   s.EndReason,
		DrawOffer:   s.DrawOffer,
	}

	if s.Players.Second != nil {
		second := playerPayload(*s.Players.Second)
		p.Second = &second
	}
	if v.Err != nil {
		p.Error = v.Err.Error()
		return p
	}
	if v.Turn != "" {
		p.CurrentTurn = string(color.Of(v.Turn))
	}
	if s.Timed() {
		p.FirstTime = millis(v.FirstClock)
		p.SecondTime = millis(v.SecondClock)
	}

	return p
}

func clockUpdatePayload(v game.View) messages.ClockUpdatePayload {
	return messages.ClockUpdatePayload{
		SessionID:     v.Session.ID,
		CurrentTurn:   string(color.Of(v.Turn)),
		FirstTime:     v.FirstClock.Milliseconds(),
		SecondTime:    v.SecondClock.Milliseconds(),
		FirstDisplay:  session.FormatClock(v.FirstClock),
		SecondDisplay: session.FormatClock(v.SecondClock),
	}
}

func openSessionsPayload(open []session.Summary) messages.OpenSessionsPayload {
	out := messages.OpenSessionsPayload{Sessions: make([]messages.SessionSummaryPayload, 0, len(open))}
	for _, sum := range open {
		out.Sessions = append(out.Sessions, messages.SessionSummaryPayload{
			SessionID:   sum.ID,
			First:       playerPayload(sum.First),
			TimeControl: timeControlPayload(sum.TimeControl),
			CreatedAt:   sum.CreatedAt.UnixMilli(),
		})
	}

	return out
}
