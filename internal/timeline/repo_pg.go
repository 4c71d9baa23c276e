package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"caseflow-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const entryColumns = `id, case_id, seq, event_date, event_type, description, source, confidence,
       contributing_sources, has_conflict, conflict_details, linked_document_ids,
       related_entry_id, enriched, created_at, updated_at`

const eventColumns = `id, case_id, source, external_id, event_date, event_type, description,
       confidence, document_id, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StageEvents inserts events, skipping any already staged.
func (r *PGRepo) StageEvents(ctx context.Context, events []SourceEvent) (int, error) {
	inserted := 0
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		for _, ev := range events {
			res, err := tx.ExecContext(ctx, `
INSERT INTO source_events (`+eventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (case_id, source, external_id) DO NOTHING`,
				ev.ID, ev.CaseID, string(ev.Source), ev.ExternalID, ev.EventDate, ev.EventType,
				ev.Description, ev.Confidence, nullString(ev.DocumentID), string(ev.Status), ev.CreatedAt)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	return inserted, err
}

// WithCaseLock runs fn in a transaction holding the case's advisory lock.
func (r *PGRepo) WithCaseLock(ctx context.Context, caseID string, fn func(tx Tx) error) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "timeline", caseID); err != nil {
			return err
		}
		return fn(&pgTx{tx: tx})
	})
}

// ListEntries returns a case's entries in insertion order.
func (r *PGRepo) ListEntries(ctx context.Context, caseID string) ([]Entry, error) {
	return listEntries(ctx, r.DB, caseID)
}

// ListResolutions returns a case's conflict resolutions.
func (r *PGRepo) ListResolutions(ctx context.Context, caseID string) ([]Resolution, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT entry_id, case_id, resolution, manual_event_date, manual_event_type, manual_description,
       resolved_by, note, resolved_at
FROM conflict_resolutions
WHERE case_id = $1
ORDER BY entry_id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Resolution{}
	for rows.Next() {
		var res Resolution
		var kind string
		var manualDate sql.NullTime
		var manualType, manualDesc sql.NullString
		if err := rows.Scan(&res.EntryID, &res.CaseID, &kind, &manualDate, &manualType, &manualDesc,
			&res.ResolvedBy, &res.Note, &res.ResolvedAt); err != nil {
			return nil, err
		}
		res.Resolution = ResolutionKind(kind)
		if manualDate.Valid || manualType.Valid || manualDesc.Valid {
			res.Manual = &ManualValues{
				EventDate:   manualDate.Time,
				EventType:   manualType.String,
				Description: manualDesc.String,
			}
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// UpsertResolution stores res, replacing any earlier decision for the entry.
func (r *PGRepo) UpsertResolution(ctx context.Context, res Resolution) error {
	var manualDate, manualType, manualDesc any
	if res.Manual != nil {
		manualDate = res.Manual.EventDate
		manualType = res.Manual.EventType
		manualDesc = res.Manual.Description
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO conflict_resolutions (
	entry_id, case_id, resolution, manual_event_date, manual_event_type, manual_description,
	resolved_by, note, resolved_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (entry_id) DO UPDATE SET
	resolution = EXCLUDED.resolution,
	manual_event_date = EXCLUDED.manual_event_date,
	manual_event_type = EXCLUDED.manual_event_type,
	manual_description = EXCLUDED.manual_description,
	resolved_by = EXCLUDED.resolved_by,
	note = EXCLUDED.note,
	resolved_at = EXCLUDED.resolved_at`,
		res.EntryID, res.CaseID, string(res.Resolution), manualDate, manualType, manualDesc,
		res.ResolvedBy, res.Note, res.ResolvedAt)
	return err
}

// UnlinkDocument drops documentID from the case's entries and staged events.
func (r *PGRepo) UnlinkDocument(ctx context.Context, caseID, documentID string) (int, error) {
	var n int64
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "timeline", caseID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
UPDATE timeline_entries
SET linked_document_ids = array_remove(linked_document_ids, $2), updated_at = now()
WHERE case_id = $1 AND $2 = ANY(linked_document_ids)`, caseID, documentID)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
UPDATE source_events SET document_id = NULL WHERE case_id = $1 AND document_id = $2`, caseID, documentID)
		return err
	})
	return int(n), err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) PendingEvents(ctx context.Context, caseID string) ([]SourceEvent, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT `+eventColumns+`
FROM source_events
WHERE case_id = $1 AND status = 'pending'
ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceEvent
	for rows.Next() {
		var ev SourceEvent
		var source, status string
		var documentID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.CaseID, &source, &ev.ExternalID, &ev.EventDate, &ev.EventType,
			&ev.Description, &ev.Confidence, &documentID, &status, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Source = Source(source)
		ev.Status = EventStatus(status)
		ev.DocumentID = documentID.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *pgTx) Entries(ctx context.Context, caseID string) ([]Entry, error) {
	return listEntries(ctx, t.tx, caseID)
}

func (t *pgTx) InsertEntry(ctx context.Context, e *Entry) error {
	details, err := encodeDetails(e.ConflictDetails)
	if err != nil {
		return err
	}
	return t.tx.QueryRowContext(ctx, `
INSERT INTO timeline_entries (
	id, case_id, event_date, event_type, description, source, confidence,
	contributing_sources, has_conflict, conflict_details, linked_document_ids,
	related_entry_id, enriched, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING seq`,
		e.ID, e.CaseID, e.EventDate, e.EventType, e.Description, string(e.Source), e.Confidence,
		pq.Array(sourceStrings(e.ContributingSources)), e.HasConflict, details, pq.Array(nonNil(e.LinkedDocumentIDs)),
		nullString(e.RelatedEntryID), e.Enriched, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.Seq)
}

func (t *pgTx) UpdateEntry(ctx context.Context, e Entry) error {
	details, err := encodeDetails(e.ConflictDetails)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE timeline_entries
SET event_date = $2,
    event_type = $3,
    description = $4,
    source = $5,
    confidence = $6,
    contributing_sources = $7,
    has_conflict = $8,
    conflict_details = $9,
    linked_document_ids = $10,
    related_entry_id = $11,
    enriched = $12,
    updated_at = $13
WHERE id = $1`,
		e.ID, e.EventDate, e.EventType, e.Description, string(e.Source), e.Confidence,
		pq.Array(sourceStrings(e.ContributingSources)), e.HasConflict, details, pq.Array(nonNil(e.LinkedDocumentIDs)),
		nullString(e.RelatedEntryID), e.Enriched, e.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (t *pgTx) MarkMerged(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
UPDATE source_events SET status = 'merged' WHERE id = ANY($1)`, pq.Array(eventIDs))
	return err
}

func listEntries(ctx context.Context, q querier, caseID string) ([]Entry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM timeline_entries
WHERE case_id = $1
ORDER BY seq`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var source string
	var contributing []string
	var details []byte
	var related sql.NullString
	err := row.Scan(
		&e.ID,
		&e.CaseID,
		&e.Seq,
		&e.EventDate,
		&e.EventType,
		&e.Description,
		&source,
		&e.Confidence,
		pq.Array(&contributing),
		&e.HasConflict,
		&details,
		pq.Array(&e.LinkedDocumentIDs),
		&related,
		&e.Enriched,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	e.Source = Source(source)
	e.RelatedEntryID = related.String
	e.EventDate = dateOnly(e.EventDate)
	for _, s := range contributing {
		e.ContributingSources = append(e.ContributingSources, Source(s))
	}
	if e.LinkedDocumentIDs == nil {
		e.LinkedDocumentIDs = []string{}
	}
	if len(details) > 0 {
		var d ConflictDetails
		if err := json.Unmarshal(details, &d); err != nil {
			return Entry{}, err
		}
		e.ConflictDetails = &d
	}
	return e, nil
}

func encodeDetails(d *ConflictDetails) (any, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func sourceStrings(in []Source) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
