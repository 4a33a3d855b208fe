package logo

import "fmt"

// Options controls how a logo is rendered.
type Options struct {
	// Size is the edge length in output pixels of one logo pixel.
	Size int
	// Character selects a single character, or AllCharacters.
	Character int
	// Crop drops the empty top row of characters that have no ascender.
	// Only applies when a single character is selected.
	Crop bool
}

// DefaultOptions renders the full logo at size 1. This is the canonical
// form stored in the history.
func DefaultOptions() Options {
	return Options{Size: 1, Character: AllCharacters}
}

// Validate checks that the options are within the supported range.
func (o Options) Validate() error {
	if o.Size < 1 || o.Size > MaxSize {
		return fmt.Errorf("%w: size %d not in [1, %d]", ErrInvalidOptions, o.Size, MaxSize)
	}
	if o.Character != AllCharacters && (o.Character < 0 || o.Character >= MaxCharacters) {
		return fmt.Errorf("%w: character %d not in [0, %d)", ErrInvalidOptions, o.Character, MaxCharacters)
	}
	return nil
}
