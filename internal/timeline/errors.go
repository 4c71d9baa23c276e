package timeline

import "errors"

var (
	ErrInvalidEvent      = errors.New("invalid timeline event")
	ErrEntryNotFound     = errors.New("timeline entry not found")
	ErrNotAConflict      = errors.New("timeline entry has no conflict to resolve")
	ErrAmbiguousConflict = errors.New("entry has several conflicts; resolve the linked entry instead")
	ErrInvalidResolution = errors.New("invalid conflict resolution")
)
