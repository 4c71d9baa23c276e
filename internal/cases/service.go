package cases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow-backend/internal/shared/telemetry"
)

// ErrValidation wraps caller input problems.
var ErrValidation = errors.New("validation error")

// Service owns case creation and lifecycle transitions.
type Service struct {
	Repo Repo
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// Create registers a new case in the none/unassigned state.
func (s *Service) Create(ctx context.Context, workspaceID string, meta Metadata, caseType string) (Case, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return Case{}, errors.Join(ErrValidation, errors.New("workspaceId is required"))
	}
	now := time.Now().UTC()
	c := Case{
		ID:                  uuid.NewString(),
		WorkspaceID:         workspaceID,
		OnboardingStatus:    OnboardingNone,
		LifecycleStatus:     LifecycleUnassigned,
		ProcessedRequestIDs: []string{},
		Type:                strings.TrimSpace(caseType),
		Metadata:            meta,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.Repo.Create(ctx, c); err != nil {
		return Case{}, err
	}
	telemetry.Info("case.created", map[string]any{
		"case_id":      c.ID,
		"workspace_id": c.WorkspaceID,
	})
	return c, nil
}

// Get returns a case by id.
func (s *Service) Get(ctx context.Context, caseID string) (Case, error) {
	return s.Repo.GetByID(ctx, caseID)
}

// List returns a workspace's cases.
func (s *Service) List(ctx context.Context, workspaceID string, limit, offset int) ([]Case, error) {
	return s.Repo.ListByWorkspace(ctx, workspaceID, limit, offset)
}

// MarkAnalyzed advances onboarding to analyzed.
func (s *Service) MarkAnalyzed(ctx context.Context, caseID string) (Case, error) {
	before, err := s.Repo.GetByID(ctx, caseID)
	if err != nil {
		return Case{}, err
	}
	after, err := s.Repo.AdvanceOnboarding(ctx, caseID, OnboardingAnalyzed)
	if err != nil {
		return Case{}, err
	}
	if before.OnboardingStatus != after.OnboardingStatus {
		telemetry.Info("case.status", map[string]any{
			"case_id": caseID,
			"from":    before.OnboardingStatus,
			"to":      after.OnboardingStatus,
		})
	}
	return after, nil
}
