package timeline

import "context"

// Repo persists timeline entries, staged events and conflict resolutions.
type Repo interface {
	// StageEvents inserts events that are not already staged for the same
	// (case, source, externalId) and returns how many were new.
	StageEvents(ctx context.Context, events []SourceEvent) (int, error)
	// WithCaseLock runs fn with exclusive write access to one case's timeline.
	// Writes made through the Tx are kept only if fn returns nil.
	WithCaseLock(ctx context.Context, caseID string, fn func(tx Tx) error) error
	ListEntries(ctx context.Context, caseID string) ([]Entry, error)
	ListResolutions(ctx context.Context, caseID string) ([]Resolution, error)
	UpsertResolution(ctx context.Context, r Resolution) error
	// UnlinkDocument removes documentID from every entry and staged event of
	// the case and returns how many entries referenced it.
	UnlinkDocument(ctx context.Context, caseID, documentID string) (int, error)
}

// Tx is the view of one case's timeline held under WithCaseLock.
type Tx interface {
	PendingEvents(ctx context.Context, caseID string) ([]SourceEvent, error)
	Entries(ctx context.Context, caseID string) ([]Entry, error)
	// InsertEntry stores e and assigns e.Seq.
	InsertEntry(ctx context.Context, e *Entry) error
	UpdateEntry(ctx context.Context, e Entry) error
	MarkMerged(ctx context.Context, eventIDs []string) error
}
