package session

import "time"

// OfferDraw records a draw offer from the side to move. Only one offer can
// be pending at a time.
func (m *Machine) OfferDraw(s GameSession, playerID string, now time.Time) (GameSession, error) {
	slot, err := m.actor(s, playerID)
	if err != nil {
		return s, err
	}

	turn, err := m.turn(s)
	if err != nil {
		return s, err
	}
	if turn != slot {
		return s, ErrNotYourTurn
	}
	if s.DrawOffer != "" {
		return s, ErrOfferAlreadyPending
	}

	next := s.Clone()
	next.DrawOffer = playerID
	next.UpdatedAt = now

	return next, nil
}

// AcceptDraw ends the game as a draw. Only the recipient of the pending
// offer may accept, regardless of whose turn it is.
func (m *Machine) AcceptDraw(s GameSession, playerID string, now time.Time) (GameSession, error) {
	if err := m.recipient(s, playerID); err != nil {
		return s, err
	}

	next := s.Clone()
	next.complete(WinnerDraw, ReasonAgreement, now)

	return next, nil
}

// DeclineDraw clears the pending offer.
func (m *Machine) DeclineDraw(s GameSession, playerID string, now time.Time) (GameSession, error) {
	if err := m.recipient(s, playerID); err != nil {
		return s, err
	}

	next := s.Clone()
	next.DrawOffer = ""
	next.UpdatedAt = now

	return next, nil
}

func (m *Machine) recipient(s GameSession, playerID string) error {
	if _, err := m.actor(s, playerID); err != nil {
		return err
	}
	if s.DrawOffer == "" {
		return ErrNoOfferPending
	}
	if s.DrawOffer == playerID {
		return ErrNotOfferRecipient
	}

	return nil
}
