package ingestion

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const requestColumns = `request_id, case_id, status, error_code, error_message, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, req Request) error {
	const query = `
INSERT INTO ingestion_requests (` + requestColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (request_id) DO NOTHING`
	_, err := r.DB.ExecContext(ctx, query,
		req.RequestID,
		req.CaseID,
		string(req.Status),
		nullString(req.ErrorCode),
		nullString(req.ErrorMessage),
		req.CreatedAt,
		req.UpdatedAt,
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, requestID string) (Request, error) {
	const query = `SELECT ` + requestColumns + ` FROM ingestion_requests WHERE request_id = $1`
	return scanRequest(r.DB.QueryRowContext(ctx, query, requestID))
}

func (r *PGRepo) ListByCase(ctx context.Context, caseID string) ([]Request, error) {
	const query = `
SELECT ` + requestColumns + `
FROM ingestion_requests
WHERE case_id = $1
ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetStatus relies on the WHERE clause so a terminal status is never
// overwritten, even by concurrent deliveries.
func (r *PGRepo) SetStatus(ctx context.Context, requestID string, status Status, errorCode, errorMessage string) (Request, error) {
	const query = `
UPDATE ingestion_requests
SET status = $2, error_code = $3, error_message = $4, updated_at = now()
WHERE request_id = $1 AND status NOT IN ('completed', 'failed')
RETURNING ` + requestColumns
	req, err := scanRequest(r.DB.QueryRowContext(ctx, query,
		requestID, string(status), nullString(errorCode), nullString(errorMessage)))
	if errors.Is(err, ErrRequestNotFound) {
		return r.Get(ctx, requestID)
	}
	return req, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		req    Request
		status string
		code   sql.NullString
		msg    sql.NullString
	)
	if err := row.Scan(&req.RequestID, &req.CaseID, &status, &code, &msg, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	req.Status = Status(status)
	req.ErrorCode = code.String
	req.ErrorMessage = msg.String
	return req, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
