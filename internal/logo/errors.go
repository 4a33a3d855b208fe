package logo

import "errors"

var (
	ErrInvalidPayload   = errors.New("invalid logo payload")
	ErrInvalidOptions   = errors.New("invalid render options")
	ErrUnknownCharacter = errors.New("character not present in logo")
)
