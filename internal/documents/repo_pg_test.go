package documents

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentRowColumns = []string{
	"id", "case_id", "source", "external_id", "file_name", "mime_type",
	"size_bytes", "storage_key", "extracted_text", "created_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return &PGRepo{DB: database}, mock
}

func TestPGCreateReturnsExistingOnConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO documents (.+) ON CONFLICT \(case_id, external_id\) WHERE external_id IS NOT NULL DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM documents WHERE case_id = \$1 AND external_id = \$2`).
		WithArgs("case-1", "att-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("doc-0", "case-1", "provider", "att-1", "a.pdf", "application/pdf", int64(10), "k", "", now))

	stored, created, err := repo.Create(context.Background(), Document{
		ID: "doc-1", CaseID: "case-1", Source: SourceProvider, ExternalID: "att-1",
		FileName: "a.pdf", MimeType: "application/pdf", StorageKey: "k", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "doc-0", stored.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreateUploadStoresNullExternalID(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("doc-1", "case-1", "upload", nil, "a.txt", "text/plain", int64(3), "k", "abc", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, created, err := repo.Create(context.Background(), Document{
		ID: "doc-1", CaseID: "case-1", Source: SourceUpload, FileName: "a.txt",
		MimeType: "text/plain", SizeBytes: 3, StorageKey: "k", ExtractedText: "abc", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDeleteMissingIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`DELETE FROM documents WHERE case_id = \$1 AND id = \$2`).
		WithArgs("case-1", "doc-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "case-1", "doc-9"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListByCaseClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT (.+) FROM documents WHERE case_id = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("case-1", 100, 0).
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("doc-1", "case-1", "upload", nil, "a.txt", "text/plain", int64(1), "k", "", now))

	docs, err := repo.ListByCase(context.Background(), "case-1", 500, -1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, SourceUpload, docs[0].Source)
	assert.Empty(t, docs[0].ExternalID)
	require.NoError(t, mock.ExpectationsWereMet())
}
