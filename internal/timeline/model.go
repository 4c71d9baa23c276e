package timeline

import (
	"slices"
	"time"
)

// Source identifies where a timeline event came from.
type Source string

const (
	SourceOfficialFeed   Source = "official_feed"
	SourceDocumentUpload Source = "document_upload"
	SourceManualEntry    Source = "manual_entry"
	SourceAIEnrichment   Source = "ai_enrichment"
	SourceSystemImport   Source = "system_import"
)

// Rank orders sources by authority; lower is more authoritative.
func (s Source) Rank() int {
	switch s {
	case SourceOfficialFeed:
		return 0
	case SourceDocumentUpload:
		return 1
	case SourceManualEntry:
		return 2
	case SourceAIEnrichment:
		return 3
	case SourceSystemImport:
		return 4
	default:
		return 5
	}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return s.Rank() < 5 }

// ConflictKind names the field two sources disagree on.
type ConflictKind string

const (
	ConflictDate        ConflictKind = "date"
	ConflictType        ConflictKind = "type"
	ConflictDescription ConflictKind = "description"
)

// Severity grades how material a conflict is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ConflictDetails describes a disagreement. SourceA always ranks at or above
// SourceB so the record does not depend on merge order.
type ConflictDetails struct {
	Kind     ConflictKind `json:"kind"`
	Severity Severity     `json:"severity"`
	SourceA  Source       `json:"sourceA"`
	SourceB  Source       `json:"sourceB"`
	ValueA   string       `json:"valueA"`
	ValueB   string       `json:"valueB"`
}

// Entry is one canonical event on a case timeline.
type Entry struct {
	ID                  string           `json:"id"`
	CaseID              string           `json:"caseId"`
	Seq                 int64            `json:"seq"`
	EventDate           time.Time        `json:"eventDate"`
	EventType           string           `json:"eventType"`
	Description         string           `json:"description"`
	Source              Source           `json:"source"`
	Confidence          float64          `json:"confidence"`
	ContributingSources []Source         `json:"contributingSources"`
	HasConflict         bool             `json:"hasConflict"`
	ConflictDetails     *ConflictDetails `json:"conflictDetails,omitempty"`
	LinkedDocumentIDs   []string         `json:"linkedDocumentIds"`
	RelatedEntryID      string           `json:"relatedEntryId,omitempty"`
	Enriched            bool             `json:"enriched"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

func (e Entry) hasSource(s Source) bool {
	return e.Source == s || slices.Contains(e.ContributingSources, s)
}

func (e *Entry) addSource(s Source) {
	if !slices.Contains(e.ContributingSources, s) {
		e.ContributingSources = append(e.ContributingSources, s)
		slices.SortFunc(e.ContributingSources, func(a, b Source) int { return a.Rank() - b.Rank() })
	}
}

func (e *Entry) linkDocument(id string) {
	if id != "" && !slices.Contains(e.LinkedDocumentIDs, id) {
		e.LinkedDocumentIDs = append(e.LinkedDocumentIDs, id)
	}
}

func cloneEntry(e Entry) Entry {
	e.ContributingSources = slices.Clone(e.ContributingSources)
	e.LinkedDocumentIDs = slices.Clone(e.LinkedDocumentIDs)
	if e.ConflictDetails != nil {
		d := *e.ConflictDetails
		e.ConflictDetails = &d
	}
	return e
}

// EventStatus tracks whether a staged event has been merged.
type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventMerged  EventStatus = "merged"
)

// SourceEvent is a raw event staged for the next merge. (CaseID, Source,
// ExternalID) is unique so redelivered payloads never stage twice.
type SourceEvent struct {
	ID          string      `json:"id"`
	CaseID      string      `json:"caseId"`
	Source      Source      `json:"source"`
	ExternalID  string      `json:"externalId"`
	EventDate   time.Time   `json:"eventDate"`
	EventType   string      `json:"eventType"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
	DocumentID  string      `json:"documentId,omitempty"`
	Status      EventStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// EventInput is a caller-supplied event to stage.
type EventInput struct {
	Source      Source
	ExternalID  string
	EventDate   time.Time
	EventType   string
	Description string
	Confidence  float64
	DocumentID  string
}

// ResolutionKind is a reviewer's decision on a conflict.
type ResolutionKind string

const (
	ResolutionKeepOfficial   ResolutionKind = "keep_official"
	ResolutionUseAlternative ResolutionKind = "use_alternative"
	ResolutionMergeManual    ResolutionKind = "merge_manual"
	ResolutionKeepBoth       ResolutionKind = "keep_both"
)

// Valid reports whether k is a known resolution.
func (k ResolutionKind) Valid() bool {
	switch k {
	case ResolutionKeepOfficial, ResolutionUseAlternative, ResolutionMergeManual, ResolutionKeepBoth:
		return true
	default:
		return false
	}
}

// ManualValues overlay the primary entry under merge_manual.
type ManualValues struct {
	EventDate   time.Time `json:"eventDate"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
}

// Resolution records how a conflict was settled. EntryID is the alternative
// (linked) entry of the conflict pair.
type Resolution struct {
	CaseID     string         `json:"caseId"`
	EntryID    string         `json:"entryId"`
	Resolution ResolutionKind `json:"resolution"`
	Manual     *ManualValues  `json:"manual,omitempty"`
	ResolvedBy string         `json:"resolvedBy"`
	Note       string         `json:"note"`
	ResolvedAt time.Time      `json:"resolvedAt"`
}

// MergeResult counts what one merge did.
type MergeResult struct {
	TotalAnalyzed int `json:"totalAnalyzed"`
	NewEvents     int `json:"newEvents"`
	Duplicates    int `json:"duplicates"`
	Enriched      int `json:"enriched"`
	Related       int `json:"related"`
	Conflicts     int `json:"conflicts"`
}

// Add accumulates other into r.
func (r *MergeResult) Add(other MergeResult) {
	r.TotalAnalyzed += other.TotalAnalyzed
	r.NewEvents += other.NewEvents
	r.Duplicates += other.Duplicates
	r.Enriched += other.Enriched
	r.Related += other.Related
	r.Conflicts += other.Conflicts
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
