package timeline

import (
	"context"
	"slices"
	"sort"
	"sync"

	"caseflow-backend/internal/shared/util"
)

type stageKey struct {
	caseID     string
	source     Source
	externalID string
}

// MemoryRepo stores timelines in memory and is safe for concurrent use.
type MemoryRepo struct {
	cases util.KeyedMutex

	mu          sync.RWMutex
	entries     map[string]Entry
	events      map[string]SourceEvent
	staged      map[stageKey]string
	resolutions map[string]Resolution
	seq         int64
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		entries:     make(map[string]Entry),
		events:      make(map[string]SourceEvent),
		staged:      make(map[stageKey]string),
		resolutions: make(map[string]Resolution),
	}
}

// StageEvents stores events not already staged.
func (r *MemoryRepo) StageEvents(ctx context.Context, events []SourceEvent) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, ev := range events {
		key := stageKey{caseID: ev.CaseID, source: ev.Source, externalID: ev.ExternalID}
		if _, exists := r.staged[key]; exists {
			continue
		}
		r.staged[key] = ev.ID
		r.events[ev.ID] = ev
		inserted++
	}
	return inserted, nil
}

// WithCaseLock serializes fn per case and applies its writes only on success.
func (r *MemoryRepo) WithCaseLock(ctx context.Context, caseID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.cases.Lock(caseID)
	defer unlock()

	tx := &memoryTx{repo: r, writes: make(map[string]Entry)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range tx.writes {
		r.entries[id] = e
	}
	for _, id := range tx.merged {
		if ev, ok := r.events[id]; ok {
			ev.Status = EventMerged
			r.events[id] = ev
		}
	}
	return nil
}

// ListEntries returns a case's entries in insertion order.
func (r *MemoryRepo) ListEntries(ctx context.Context, caseID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entriesLocked(caseID), nil
}

func (r *MemoryRepo) entriesLocked(caseID string) []Entry {
	out := []Entry{}
	for _, e := range r.entries {
		if e.CaseID == caseID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// ListResolutions returns a case's conflict resolutions.
func (r *MemoryRepo) ListResolutions(ctx context.Context, caseID string) ([]Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Resolution{}
	for _, res := range r.resolutions {
		if res.CaseID == caseID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

// UpsertResolution stores r, replacing any earlier decision for the entry.
func (r *MemoryRepo) UpsertResolution(ctx context.Context, res Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolutions[res.EntryID] = res
	return nil
}

// UnlinkDocument drops documentID from the case's entries and staged events.
func (r *MemoryRepo) UnlinkDocument(ctx context.Context, caseID, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	unlock := r.cases.Lock(caseID)
	defer unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if e.CaseID != caseID || !slices.Contains(e.LinkedDocumentIDs, documentID) {
			continue
		}
		e = cloneEntry(e)
		e.LinkedDocumentIDs = slices.DeleteFunc(e.LinkedDocumentIDs, func(d string) bool { return d == documentID })
		r.entries[id] = e
		n++
	}
	for id, ev := range r.events {
		if ev.CaseID == caseID && ev.DocumentID == documentID {
			ev.DocumentID = ""
			r.events[id] = ev
		}
	}
	return n, nil
}

type memoryTx struct {
	repo   *MemoryRepo
	writes map[string]Entry
	merged []string
}

func (t *memoryTx) PendingEvents(ctx context.Context, caseID string) ([]SourceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	var out []SourceEvent
	for _, ev := range t.repo.events {
		if ev.CaseID == caseID && ev.Status == EventPending {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) Entries(ctx context.Context, caseID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.repo.mu.RLock()
	out := t.repo.entriesLocked(caseID)
	t.repo.mu.RUnlock()
	for i, e := range out {
		if w, ok := t.writes[e.ID]; ok {
			out[i] = cloneEntry(w)
		}
	}
	for _, w := range t.writes {
		if w.CaseID == caseID && !slices.ContainsFunc(out, func(e Entry) bool { return e.ID == w.ID }) {
			out = append(out, cloneEntry(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memoryTx) InsertEntry(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.repo.mu.Lock()
	t.repo.seq++
	e.Seq = t.repo.seq
	t.repo.mu.Unlock()
	t.writes[e.ID] = cloneEntry(*e)
	return nil
}

func (t *memoryTx) UpdateEntry(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.writes[e.ID]; !ok {
		t.repo.mu.RLock()
		_, exists := t.repo.entries[e.ID]
		t.repo.mu.RUnlock()
		if !exists {
			return ErrEntryNotFound
		}
	}
	t.writes[e.ID] = cloneEntry(e)
	return nil
}

func (t *memoryTx) MarkMerged(ctx context.Context, eventIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.merged = append(t.merged, eventIDs...)
	return nil
}
