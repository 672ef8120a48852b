package vision

import "errors"

// ErrTemplateLoad indicates a template image could not be read or decoded.
// Find and FindMany never return it; they degrade the lookup to "not found".
var ErrTemplateLoad = errors.New("vision: template load failed")
