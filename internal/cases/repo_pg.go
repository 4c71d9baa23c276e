package cases

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const caseColumns = `id, workspace_id, onboarding_status, lifecycle_status, processed_request_ids,
       case_type, lawsuit_number, court, title, subject, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (Case, error) {
	var c Case
	var onboarding, lifecycle string
	err := row.Scan(
		&c.ID,
		&c.WorkspaceID,
		&onboarding,
		&lifecycle,
		pq.Array(&c.ProcessedRequestIDs),
		&c.Type,
		&c.Metadata.LawsuitNumber,
		&c.Metadata.Court,
		&c.Metadata.Title,
		&c.Metadata.Subject,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, err
	}
	c.OnboardingStatus = OnboardingStatus(onboarding)
	c.LifecycleStatus = LifecycleStatus(lifecycle)
	return c, nil
}

// Create inserts a new case.
func (r *PGRepo) Create(ctx context.Context, c Case) error {
	const query = `
INSERT INTO cases (
	id, workspace_id, onboarding_status, lifecycle_status, processed_request_ids,
	case_type, lawsuit_number, court, title, subject, version, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.DB.ExecContext(ctx, query,
		c.ID,
		c.WorkspaceID,
		string(c.OnboardingStatus),
		string(c.LifecycleStatus),
		pq.Array(nonNil(c.ProcessedRequestIDs)),
		c.Type,
		c.Metadata.LawsuitNumber,
		c.Metadata.Court,
		c.Metadata.Title,
		c.Metadata.Subject,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

// GetByID returns a case by ID.
func (r *PGRepo) GetByID(ctx context.Context, caseID string) (Case, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID)
	return scanCase(row)
}

// ListByWorkspace returns a workspace's cases, newest first.
func (r *PGRepo) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]Case, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+caseColumns+`
FROM cases
WHERE workspace_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClaimDelivery inserts the claim, or takes over a stale processing claim.
// The conditional DO UPDATE leaves completed and fresh claims untouched, so
// zero affected rows means another delivery owns this phase.
func (r *PGRepo) ClaimDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-staleAfter)
	if staleAfter <= 0 {
		staleBefore = time.Time{}
	}
	res, err := r.DB.ExecContext(ctx, `
INSERT INTO delivery_claims (case_id, request_id, phase, status, claimed_at)
VALUES ($1, $2, $3, 'processing', $4)
ON CONFLICT (case_id, request_id, phase) DO UPDATE
SET claimed_at = EXCLUDED.claimed_at
WHERE delivery_claims.status = 'processing' AND delivery_claims.claimed_at < $5`,
		caseID, requestID, string(phase), now, staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteDelivery marks a claim completed.
func (r *PGRepo) CompleteDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE delivery_claims SET status = 'completed', completed_at = now()
WHERE case_id = $1 AND request_id = $2 AND phase = $3`, caseID, requestID, string(phase))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// ReleaseDelivery drops a processing claim so a retry can take it.
func (r *PGRepo) ReleaseDelivery(ctx context.Context, caseID, requestID string, phase DeliveryPhase) error {
	_, err := r.DB.ExecContext(ctx, `
DELETE FROM delivery_claims
WHERE case_id = $1 AND request_id = $2 AND phase = $3 AND status = 'processing'`, caseID, requestID, string(phase))
	return err
}

// ApplyEnrichment locks the case row, applies the transition and completes
// the final claim in one transaction.
func (r *PGRepo) ApplyEnrichment(ctx context.Context, caseID string, e Enrichment) (Case, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Case{}, err
	}
	defer tx.Rollback()

	c, err := scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID))
	if err != nil {
		return Case{}, err
	}
	applyEnrichment(&c, e, time.Now().UTC())
	if err := updateCase(ctx, tx, c); err != nil {
		return Case{}, err
	}
	if e.RequestID != "" {
		if _, err := tx.ExecContext(ctx, `
UPDATE delivery_claims SET status = 'completed', completed_at = now()
WHERE case_id = $1 AND request_id = $2 AND phase = 'final'`, caseID, e.RequestID); err != nil {
			return Case{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Case{}, err
	}
	return c, nil
}

// AdvanceOnboarding moves the onboarding status forward under a row lock.
func (r *PGRepo) AdvanceOnboarding(ctx context.Context, caseID string, to OnboardingStatus) (Case, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Case{}, err
	}
	defer tx.Rollback()

	c, err := scanCase(tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, caseID))
	if err != nil {
		return Case{}, err
	}
	next, err := c.OnboardingStatus.Advance(to)
	if err != nil {
		return Case{}, err
	}
	if next == c.OnboardingStatus {
		return c, tx.Commit()
	}
	c.OnboardingStatus = next
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	if err := updateCase(ctx, tx, c); err != nil {
		return Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return Case{}, err
	}
	return c, nil
}

func updateCase(ctx context.Context, tx *sql.Tx, c Case) error {
	_, err := tx.ExecContext(ctx, `
UPDATE cases
SET onboarding_status = $2,
    lifecycle_status = $3,
    processed_request_ids = $4,
    case_type = $5,
    lawsuit_number = $6,
    court = $7,
    title = $8,
    subject = $9,
    version = $10,
    updated_at = $11
WHERE id = $1`,
		c.ID,
		string(c.OnboardingStatus),
		string(c.LifecycleStatus),
		pq.Array(nonNil(c.ProcessedRequestIDs)),
		c.Type,
		c.Metadata.LawsuitNumber,
		c.Metadata.Court,
		c.Metadata.Title,
		c.Metadata.Subject,
		c.Version,
		c.UpdatedAt,
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
