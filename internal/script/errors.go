package script

import "errors"

// ErrInvalidScript indicates a script failed to decode or validate.
var ErrInvalidScript = errors.New("script: invalid script")
