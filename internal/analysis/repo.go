package analysis

import (
	"context"
	"time"
)

// Repo persists analysis runs and committed versions.
type Repo interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
	// FindRunByDebit returns the run holding debitID.
	FindRunByDebit(ctx context.Context, debitID string) (Run, error)
	ListRunsByState(ctx context.Context, states []State, updatedBefore time.Time) ([]Run, error)
	// CreateVersion assigns the next version number for the case.
	CreateVersion(ctx context.Context, v Version) (Version, error)
	ListVersions(ctx context.Context, caseID string) ([]Version, error)
	// CommittedDebits reports which of debitIDs a version references.
	CommittedDebits(ctx context.Context, debitIDs []string) (map[string]bool, error)
}
