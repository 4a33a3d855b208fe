package history

import "errors"

// ErrNotFound is returned for an index outside the retained window.
var ErrNotFound = errors.New("history entry not found")
