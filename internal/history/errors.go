package history

import "errors"

// ErrNotFound is returned when a cycle ID has no row.
var ErrNotFound = errors.New("history: not found")
