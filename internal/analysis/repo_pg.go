package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"caseflow-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `id, case_id, workspace_id, analysis_type, state, debit_transaction_ids,
       refund_transaction_ids, version_id, error_message, created_at, updated_at`

const versionColumns = `id, case_id, version, status, analysis_type, cost_report_credits, cost_full_credits,
       debit_transaction_ids, run_id, result, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		kind      string
		state     string
		versionID sql.NullString
		errMsg    sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.CaseID,
		&run.WorkspaceID,
		&kind,
		&state,
		pq.Array(&run.DebitTransactionIDs),
		pq.Array(&run.RefundTransactionIDs),
		&versionID,
		&errMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrRunNotFound
		}
		return Run{}, err
	}
	run.AnalysisType = Type(kind)
	run.State = State(state)
	run.VersionID = versionID.String
	run.ErrorMessage = errMsg.String
	return run, nil
}

func (r *PGRepo) CreateRun(ctx context.Context, run Run) error {
	const query = `
INSERT INTO analysis_runs (
	id, case_id, workspace_id, analysis_type, state, debit_transaction_ids,
	refund_transaction_ids, version_id, error_message, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.CaseID,
		run.WorkspaceID,
		string(run.AnalysisType),
		string(run.State),
		pq.Array(nonNil(run.DebitTransactionIDs)),
		pq.Array(nonNil(run.RefundTransactionIDs)),
		nullString(run.VersionID),
		nullString(run.ErrorMessage),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (r *PGRepo) UpdateRun(ctx context.Context, run Run) error {
	const query = `
UPDATE analysis_runs
SET state = $2, debit_transaction_ids = $3, refund_transaction_ids = $4,
    version_id = $5, error_message = $6, updated_at = $7
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		run.ID,
		string(run.State),
		pq.Array(nonNil(run.DebitTransactionIDs)),
		pq.Array(nonNil(run.RefundTransactionIDs)),
		nullString(run.VersionID),
		nullString(run.ErrorMessage),
		run.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (r *PGRepo) GetRun(ctx context.Context, runID string) (Run, error) {
	const query = `SELECT ` + runColumns + ` FROM analysis_runs WHERE id = $1`
	return scanRun(r.DB.QueryRowContext(ctx, query, runID))
}

func (r *PGRepo) FindRunByDebit(ctx context.Context, debitID string) (Run, error) {
	const query = `SELECT ` + runColumns + ` FROM analysis_runs WHERE $1 = ANY(debit_transaction_ids) LIMIT 1`
	return scanRun(r.DB.QueryRowContext(ctx, query, debitID))
}

func (r *PGRepo) ListRunsByState(ctx context.Context, states []State, updatedBefore time.Time) ([]Run, error) {
	const query = `
SELECT ` + runColumns + `
FROM analysis_runs
WHERE state = ANY($1) AND updated_at < $2
ORDER BY created_at ASC`
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(names), updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// CreateVersion serializes version numbering per case with an advisory lock;
// the (case_id, version) unique key backs it up.
func (r *PGRepo) CreateVersion(ctx context.Context, v Version) (Version, error) {
	result := v.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "analysis_version", v.CaseID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM analysis_versions WHERE case_id = $1`,
			v.CaseID,
		).Scan(&v.Version); err != nil {
			return err
		}
		const insert = `
INSERT INTO analysis_versions (` + versionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err := tx.ExecContext(ctx, insert,
			v.ID,
			v.CaseID,
			v.Version,
			v.Status,
			string(v.AnalysisType),
			v.CostEstimate.ReportCredits,
			v.CostEstimate.FullCredits,
			pq.Array(nonNil(v.DebitTransactionIDs)),
			v.RunID,
			[]byte(result),
			v.CreatedAt,
		)
		return err
	})
	if err != nil {
		return Version{}, err
	}
	return v, nil
}

func (r *PGRepo) ListVersions(ctx context.Context, caseID string) ([]Version, error) {
	const query = `
SELECT ` + versionColumns + `
FROM analysis_versions
WHERE case_id = $1
ORDER BY version DESC`
	rows, err := r.DB.QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Version, 0)
	for rows.Next() {
		var (
			v      Version
			kind   string
			result []byte
		)
		if err := rows.Scan(
			&v.ID,
			&v.CaseID,
			&v.Version,
			&v.Status,
			&kind,
			&v.CostEstimate.ReportCredits,
			&v.CostEstimate.FullCredits,
			pq.Array(&v.DebitTransactionIDs),
			&v.RunID,
			&result,
			&v.CreatedAt,
		); err != nil {
			return nil, err
		}
		v.AnalysisType = Type(kind)
		if len(result) > 0 {
			v.Result = json.RawMessage(result)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PGRepo) CommittedDebits(ctx context.Context, debitIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(debitIDs) == 0 {
		return out, nil
	}
	const query = `
SELECT DISTINCT id
FROM analysis_versions, unnest(debit_transaction_ids) AS id
WHERE id = ANY($1)`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(debitIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
