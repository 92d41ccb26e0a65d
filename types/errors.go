package types

import "errors"

// ErrNotFound is returned by adapters when a resource is absent (missed slot,
// pruned historical state). Absence is informative and is never retried.
var ErrNotFound = errors.New("not found 404")
