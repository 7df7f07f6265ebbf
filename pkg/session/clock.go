package session

import (
	"fmt"
	"math"
	"time"

	"github.com/tecu23/duel-server/pkg/rules"
)

// Unlimited is reported as the remaining time of an untimed session.
const Unlimited = time.Duration(math.MaxInt64)

// Elapsed returns the time the running clock has consumed since the last
// reset. It never returns a negative value.
func Elapsed(s GameSession, now time.Time) time.Duration {
	d := now.Sub(s.Baseline())
	if d < 0 {
		return 0
	}

	return d
}

// Remaining derives the live budget of slot at now. Only the side to move
// loses time, and only while the session is active; every other clock is
// frozen at its stored value. A value <= 0 means the flag has fallen.
func (m *Machine) Remaining(s GameSession, slot rules.Slot, now time.Time) (time.Duration, error) {
	if !s.Timed() {
		return Unlimited, nil
	}

	stored := s.Stored(slot)
	if s.Status != StatusActive {
		return stored, nil
	}

	turn, err := m.turn(s)
	if err != nil {
		return 0, err
	}
	if turn != slot {
		return stored, nil
	}

	return stored - Elapsed(s, now), nil
}

// Flagged returns the seat whose clock has run out, checking the side to
// move first.
func (m *Machine) Flagged(s GameSession, now time.Time) (rules.Slot, bool, error) {
	if !s.Timed() || s.Status != StatusActive {
		return "", false, nil
	}

	turn, err := m.turn(s)
	if err != nil {
		return "", false, err
	}

	for _, slot := range []rules.Slot{turn, turn.Opp()} {
		left, err := m.Remaining(s, slot, now)
		if err != nil {
			return "", false, err
		}
		if left <= 0 {
			return slot, true, nil
		}
	}

	return "", false, nil
}

// StoredAfterMove is the new stored budget of a player who moved after
// spending elapsed of it.
func StoredAfterMove(stored, elapsed, increment time.Duration) time.Duration {
	return stored - elapsed + increment
}

// Display clamps a remaining duration for presentation.
func Display(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}

	return d
}

// FormatClock formats a remaining duration (e.g. "1:30", or "9.4" under ten
// seconds).
func FormatClock(d time.Duration) string {
	if d == Unlimited {
		return "∞"
	}

	ms := Display(d).Milliseconds()

	totalSeconds := ms / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60

	if ms < 10000 {
		tenths := (ms % 1000) / 100
		return fmt.Sprintf("%d.%d", totalSeconds, tenths)
	}

	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
