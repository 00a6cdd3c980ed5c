package history

import "errors"

// ErrNotFound is returned by query-side operations when the requested
// entity does not exist (spec.md §6: maps to a 404 at the REST layer).
var ErrNotFound = errors.New("history: not found")
