package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryRowColumns = []string{
	"id", "case_id", "seq", "event_date", "event_type", "description", "source", "confidence",
	"contributing_sources", "has_conflict", "conflict_details", "linked_document_ids",
	"related_entry_id", "enriched", "created_at", "updated_at",
}

var eventRowColumns = []string{
	"id", "case_id", "source", "external_id", "event_date", "event_type", "description",
	"confidence", "document_id", "status", "created_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return &PGRepo{DB: database}, mock
}

func TestPGStageEventsCountsOnlyNewRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO source_events (.+) ON CONFLICT \(case_id, source, external_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO source_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.StageEvents(context.Background(), []SourceEvent{
		{ID: "ev-1", CaseID: "case-1", Source: SourceOfficialFeed, ExternalID: "mov-1", EventDate: now, Status: EventPending, CreatedAt: now},
		{ID: "ev-2", CaseID: "case-1", Source: SourceOfficialFeed, ExternalID: "mov-1", EventDate: now, Status: EventPending, CreatedAt: now},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMergeRunsUnderAdvisoryLock(t *testing.T) {
	repo, mock := newMockRepo(t)
	svc := NewService(repo, nil)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("timeline:case-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM source_events WHERE case_id = \$1 AND status = 'pending'`).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow("ev-1", "case-1", "official_feed", "mov-1", date, "hearing", "Audiência realizada", 1.0, nil, "pending", now))
	mock.ExpectQuery(`SELECT (.+) FROM timeline_entries WHERE case_id = \$1 ORDER BY seq`).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows(entryRowColumns))
	mock.ExpectQuery(`INSERT INTO timeline_entries (.+) RETURNING seq`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE source_events SET status = 'merged' WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Merge(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, MergeResult{TotalAnalyzed: 1, NewEvents: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListEntriesDecodesConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT (.+) FROM timeline_entries`).
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows(entryRowColumns).
			AddRow("e-1", "case-1", int64(1), date, "judgment", "Sentença", "official_feed", 1.0,
				"{official_feed}", true,
				[]byte(`{"kind":"type","severity":"high","sourceA":"official_feed","sourceB":"document_upload","valueA":"judgment","valueB":"decision"}`),
				"{doc-1}", nil, false, now, now))

	entries, err := repo.ListEntries(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []Source{SourceOfficialFeed}, entries[0].ContributingSources)
	assert.Equal(t, []string{"doc-1"}, entries[0].LinkedDocumentIDs)
	require.NotNil(t, entries[0].ConflictDetails)
	assert.Equal(t, SeverityHigh, entries[0].ConflictDetails.Severity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGUpsertResolutionOverwrites(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO conflict_resolutions (.+) ON CONFLICT \(entry_id\) DO UPDATE`).
		WithArgs("e-2", "case-1", "keep_both", nil, nil, nil, "reviewer", "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertResolution(context.Background(), Resolution{
		CaseID:     "case-1",
		EntryID:    "e-2",
		Resolution: ResolutionKeepBoth,
		ResolvedBy: "reviewer",
		ResolvedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGUnlinkDocument(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("timeline:case-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE timeline_entries SET linked_document_ids = array_remove`).
		WithArgs("case-1", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE source_events SET document_id = NULL`).
		WithArgs("case-1", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := repo.UnlinkDocument(context.Background(), "case-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
