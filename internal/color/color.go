// Package color provides basic color definitions for a chess game
package color

import "github.com/tecu23/duel-server/pkg/rules"

// Color represent a chess color
type Color string

// Possible color variations in a chess game
const (
	White Color = "w"
	Black Color = "b"
)

// Of returns the color played by the given seat. The first seat plays white.
func Of(s rules.Slot) Color {
	if s == rules.First {
		return White
	}

	return Black
}

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Name returns the capitalized side name used in end reasons.
func (c Color) Name() string {
	if c == White {
		return "White"
	}

	return "Black"
}
