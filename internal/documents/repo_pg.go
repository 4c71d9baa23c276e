package documents

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const documentColumns = `id, case_id, source, external_id, file_name, mime_type, size_bytes, storage_key, extracted_text, created_at`

// Create inserts a new document. The partial unique index on
// (case_id, external_id) makes provider re-deliveries a no-op.
func (r *PGRepo) Create(ctx context.Context, doc Document) (Document, bool, error) {
	const query = `
INSERT INTO documents (` + documentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (case_id, external_id) WHERE external_id IS NOT NULL DO NOTHING`

	res, err := r.DB.ExecContext(ctx, query,
		doc.ID,
		doc.CaseID,
		string(doc.Source),
		nullString(doc.ExternalID),
		doc.FileName,
		doc.MimeType,
		doc.SizeBytes,
		doc.StorageKey,
		doc.ExtractedText,
		doc.CreatedAt,
	)
	if err != nil {
		return Document{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Document{}, false, err
	}
	if n == 0 {
		existing, err := r.GetByExternalID(ctx, doc.CaseID, doc.ExternalID)
		if err != nil {
			return Document{}, false, err
		}
		return existing, false, nil
	}
	return doc, true, nil
}

// GetByID fetches a case document by id.
func (r *PGRepo) GetByID(ctx context.Context, caseID, documentID string) (Document, error) {
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE case_id = $1 AND id = $2`
	return scanDocument(r.DB.QueryRowContext(ctx, query, caseID, documentID))
}

// GetByExternalID fetches a case document by its provider id.
func (r *PGRepo) GetByExternalID(ctx context.Context, caseID, externalID string) (Document, error) {
	if externalID == "" {
		return Document{}, ErrNotFound
	}
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE case_id = $1 AND external_id = $2`
	return scanDocument(r.DB.QueryRowContext(ctx, query, caseID, externalID))
}

// ListByCase lists a case's documents newest-first.
func (r *PGRepo) ListByCase(ctx context.Context, caseID string, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	const query = `
SELECT ` + documentColumns + `
FROM documents
WHERE case_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, caseID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a case document.
func (r *PGRepo) Delete(ctx context.Context, caseID, documentID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM documents WHERE case_id = $1 AND id = $2`, caseID, documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc        Document
		source     string
		externalID sql.NullString
	)
	err := row.Scan(
		&doc.ID,
		&doc.CaseID,
		&source,
		&externalID,
		&doc.FileName,
		&doc.MimeType,
		&doc.SizeBytes,
		&doc.StorageKey,
		&doc.ExtractedText,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	doc.Source = Source(source)
	if externalID.Valid {
		doc.ExternalID = externalID.String
	}
	return doc, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
