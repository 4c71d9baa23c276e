package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow-backend/internal/llm"
	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/telemetry"
	"caseflow-backend/internal/shared/util"
)

// enrichBelow is the confidence under which entries are sent for normalization.
const enrichBelow = 0.6

// Service merges staged source events into canonical case timelines.
type Service struct {
	Repo       Repo
	Normalizer llm.Normalizer

	now   func() time.Time
	newID func() string
}

// NewService constructs a Service. A nil normalizer disables the enrichment pass.
func NewService(repo Repo, normalizer llm.Normalizer) *Service {
	return &Service{
		Repo:       repo,
		Normalizer: normalizer,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Stage records raw events for the next merge in input order. Events without
// an external id get one derived from their content, so identical
// redeliveries stage once.
func (s *Service) Stage(ctx context.Context, caseID string, inputs []EventInput) (int, error) {
	if caseID == "" {
		return 0, ErrInvalidEvent
	}
	now := s.now()
	events := make([]SourceEvent, 0, len(inputs))
	for i, in := range inputs {
		if !in.Source.Valid() || in.EventDate.IsZero() {
			return 0, ErrInvalidEvent
		}
		if strings.TrimSpace(in.Description) == "" && strings.TrimSpace(in.EventType) == "" {
			return 0, ErrInvalidEvent
		}
		externalID := in.ExternalID
		if externalID == "" {
			externalID = util.HashKey(fmt.Sprintf("%s|%s|%s|%s", in.DocumentID,
				dateOnly(in.EventDate).Format(time.DateOnly), in.EventType, in.Description))
		}
		confidence := in.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence(in.Source)
		}
		events = append(events, SourceEvent{
			ID:          s.newID(),
			CaseID:      caseID,
			Source:      in.Source,
			ExternalID:  externalID,
			EventDate:   dateOnly(in.EventDate),
			EventType:   strings.TrimSpace(in.EventType),
			Description: strings.TrimSpace(in.Description),
			Confidence:  confidence,
			DocumentID:  in.DocumentID,
			Status:      EventPending,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	if len(events) == 0 {
		return 0, nil
	}
	return s.Repo.StageEvents(ctx, events)
}

func defaultConfidence(src Source) float64 {
	switch src {
	case SourceOfficialFeed:
		return 1
	case SourceManualEntry:
		return 0.9
	case SourceSystemImport:
		return 0.8
	case SourceDocumentUpload:
		return 0.7
	default:
		return 0.5
	}
}

// Merge folds every pending event of the case into its timeline, official
// events first, then runs the best-effort enrichment pass.
func (s *Service) Merge(ctx context.Context, caseID string) (MergeResult, error) {
	start := time.Now()
	var res MergeResult
	err := s.Repo.WithCaseLock(ctx, caseID, func(tx Tx) error {
		pending, err := tx.PendingEvents(ctx, caseID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		entries, err := tx.Entries(ctx, caseID)
		if err != nil {
			return err
		}
		sortCandidates(pending)

		merged := make([]string, 0, len(pending))
		for _, ev := range pending {
			res.TotalAnalyzed++
			entries, err = s.mergeOne(ctx, tx, entries, ev, &res)
			if err != nil {
				return err
			}
			merged = append(merged, ev.ID)
		}
		return tx.MarkMerged(ctx, merged)
	})
	if err != nil {
		telemetry.Error("timeline.merge_failed", map[string]any{"case_id": caseID, "error": err})
		return MergeResult{}, err
	}

	res.Enriched = s.enrich(ctx, caseID)
	metrics.ObserveMergeDurationMs(metrics.SinceMillis(start))
	metrics.AddTimelineConflicts(res.Conflicts)
	if res.TotalAnalyzed > 0 || res.Enriched > 0 {
		telemetry.Info("timeline.merged", map[string]any{
			"case_id":        caseID,
			"total_analyzed": res.TotalAnalyzed,
			"new_events":     res.NewEvents,
			"duplicates":     res.Duplicates,
			"related":        res.Related,
			"conflicts":      res.Conflicts,
			"enriched":       res.Enriched,
		})
	}
	return res, nil
}

func sortCandidates(events []SourceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Source.Rank() != b.Source.Rank() {
			return a.Source.Rank() < b.Source.Rank()
		}
		if !a.EventDate.Equal(b.EventDate) {
			return a.EventDate.Before(b.EventDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (s *Service) mergeOne(ctx context.Context, tx Tx, entries []Entry, ev SourceEvent, res *MergeResult) ([]Entry, error) {
	idx, j := bestMatch(entries, ev)
	now := s.now()

	if idx >= 0 && j.kind == matchDuplicate {
		e := entries[idx]
		e.addSource(ev.Source)
		e.linkDocument(ev.DocumentID)
		if ev.Source == SourceOfficialFeed && e.Source != SourceOfficialFeed {
			e.addSource(e.Source)
			e.Source = SourceOfficialFeed
			e.EventDate = ev.EventDate
			if ev.EventType != "" {
				e.EventType = ev.EventType
			}
		}
		if e.EventType == "" {
			e.EventType = ev.EventType
		}
		if ev.Confidence > e.Confidence {
			e.Confidence = ev.Confidence
		}
		e.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return entries, err
		}
		entries[idx] = e
		res.Duplicates++
		return entries, nil
	}

	entry := s.entryFrom(ev, now)
	var counterpart *Entry
	switch {
	case idx >= 0 && j.kind == matchConflict && !entries[idx].hasSource(ev.Source):
		other := entries[idx]
		details := canonicalConflict(j, other, ev)
		entry.HasConflict = true
		entry.ConflictDetails = &details
		if ev.Source == SourceOfficialFeed && other.Source != SourceOfficialFeed && other.RelatedEntryID == "" {
			// The official movement heads the pair.
			d := details
			other.ConflictDetails = &d
			other.RelatedEntryID = entry.ID
		} else {
			entry.RelatedEntryID = other.ID
			if other.ConflictDetails == nil || details.Severity.rank() >= other.ConflictDetails.Severity.rank() {
				d := details
				other.ConflictDetails = &d
			}
		}
		other.HasConflict = true
		other.UpdatedAt = now
		counterpart = &other
		res.Conflicts++
	case idx >= 0 && j.kind != matchNone:
		entry.RelatedEntryID = entries[idx].ID
		res.Related++
	default:
		res.NewEvents++
	}
	if err := tx.InsertEntry(ctx, &entry); err != nil {
		return entries, err
	}
	if counterpart != nil {
		if err := tx.UpdateEntry(ctx, *counterpart); err != nil {
			return entries, err
		}
		entries[idx] = *counterpart
	}
	return append(entries, entry), nil
}

func (s *Service) entryFrom(ev SourceEvent, now time.Time) Entry {
	e := Entry{
		ID:                  s.newID(),
		CaseID:              ev.CaseID,
		EventDate:           ev.EventDate,
		EventType:           ev.EventType,
		Description:         ev.Description,
		Source:              ev.Source,
		Confidence:          ev.Confidence,
		ContributingSources: []Source{ev.Source},
		LinkedDocumentIDs:   []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	e.linkDocument(ev.DocumentID)
	return e
}

// bestMatch prefers same-event judgments over relations, then official
// entries, then the higher score, then the older entry.
func bestMatch(entries []Entry, ev SourceEvent) (int, judgment) {
	best := -1
	var bestJ judgment
	for i, e := range entries {
		j := judgeCandidate(e, ev)
		if j.kind == matchNone {
			continue
		}
		if best < 0 || better(j, e, bestJ, entries[best]) {
			best, bestJ = i, j
		}
	}
	return best, bestJ
}

// judgeCandidate is judge, except that two official movements with distinct
// external ids are separate acts and at most related.
func judgeCandidate(e Entry, ev SourceEvent) judgment {
	j := judge(e, ev)
	if ev.Source == SourceOfficialFeed && e.Source == SourceOfficialFeed && j.kind != matchNone {
		return judgment{kind: matchRelated, score: j.score}
	}
	return j
}

func better(j judgment, e Entry, cur judgment, curEntry Entry) bool {
	if p, q := strength(j.kind), strength(cur.kind); p != q {
		return p > q
	}
	if a, b := e.Source == SourceOfficialFeed, curEntry.Source == SourceOfficialFeed; a != b {
		return a
	}
	if j.score != cur.score {
		return j.score > cur.score
	}
	return e.Seq < curEntry.Seq
}

func strength(k matchKind) int {
	switch k {
	case matchDuplicate, matchConflict:
		return 2
	case matchRelated:
		return 1
	default:
		return 0
	}
}

// canonicalConflict orders the pair by source rank, then value, so merging
// A then B yields the same record as B then A.
func canonicalConflict(j judgment, e Entry, ev SourceEvent) ConflictDetails {
	var va, vb string
	switch j.conflict {
	case ConflictDate:
		va, vb = e.EventDate.Format(time.DateOnly), ev.EventDate.Format(time.DateOnly)
	case ConflictType:
		va, vb = e.EventType, ev.EventType
	default:
		va, vb = e.Description, ev.Description
	}
	sa, sb := e.Source, ev.Source
	if sb.Rank() < sa.Rank() || (sb.Rank() == sa.Rank() && vb < va) {
		sa, sb = sb, sa
		va, vb = vb, va
	}
	return ConflictDetails{
		Kind:     j.conflict,
		Severity: j.severity,
		SourceA:  sa,
		SourceB:  sb,
		ValueA:   va,
		ValueB:   vb,
	}
}

// enrich normalizes low-confidence entries. Model calls happen outside the
// case lock; failures are logged and skipped.
func (s *Service) enrich(ctx context.Context, caseID string) int {
	if s.Normalizer == nil {
		return 0
	}
	entries, err := s.Repo.ListEntries(ctx, caseID)
	if err != nil {
		telemetry.Warn("timeline.enrich_list_failed", map[string]any{"case_id": caseID, "error": err})
		return 0
	}
	results := make(map[string]llm.Normalization)
	for _, e := range entries {
		if e.Enriched || e.Confidence >= enrichBelow {
			continue
		}
		n, err := s.Normalizer.Normalize(ctx, llm.NormalizeInput{
			EventDate:   e.EventDate,
			EventType:   e.EventType,
			Description: e.Description,
		})
		if err != nil {
			telemetry.Warn("timeline.enrich_failed", map[string]any{"case_id": caseID, "entry_id": e.ID, "error": err})
			continue
		}
		results[e.ID] = n
	}
	if len(results) == 0 {
		return 0
	}

	applied := 0
	err = s.Repo.WithCaseLock(ctx, caseID, func(tx Tx) error {
		current, err := tx.Entries(ctx, caseID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, e := range current {
			n, ok := results[e.ID]
			if !ok || e.Enriched {
				continue
			}
			e.EventType = n.EventType
			e.Description = n.Description
			e.Confidence = raisedConfidence(e.Confidence, n.Confidence)
			e.Enriched = true
			e.addSource(SourceAIEnrichment)
			e.UpdatedAt = now
			if err := tx.UpdateEntry(ctx, e); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		telemetry.Warn("timeline.enrich_apply_failed", map[string]any{"case_id": caseID, "error": err})
		return 0
	}
	return applied
}

func raisedConfidence(current, model float64) float64 {
	out := current
	if model > out {
		out = model
	}
	if out < enrichBelow {
		out = enrichBelow
	}
	if out > 1 {
		out = 1
	}
	return out
}

// AddManualEntry records a user-entered event and merges it.
func (s *Service) AddManualEntry(ctx context.Context, caseID string, date time.Time, eventType, description string) (MergeResult, error) {
	if _, err := s.Stage(ctx, caseID, []EventInput{{
		Source:      SourceManualEntry,
		ExternalID:  s.newID(),
		EventDate:   date,
		EventType:   eventType,
		Description: description,
	}}); err != nil {
		return MergeResult{}, err
	}
	return s.Merge(ctx, caseID)
}

// UnlinkDocument removes a deleted document from the case's timeline.
func (s *Service) UnlinkDocument(ctx context.Context, caseID, documentID string) (int, error) {
	n, err := s.Repo.UnlinkDocument(ctx, caseID, documentID)
	if err != nil {
		return 0, err
	}
	telemetry.Info("timeline.document_unlinked", map[string]any{
		"case_id":     caseID,
		"document_id": documentID,
		"entries":     n,
	})
	return n, nil
}
