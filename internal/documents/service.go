package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseflow-backend/internal/extract"
	"caseflow-backend/internal/shared/storage/object"
	"caseflow-backend/internal/shared/telemetry"
	"caseflow-backend/internal/timeline"
)

// Timeline is the part of the merge engine documents feed into.
type Timeline interface {
	Stage(ctx context.Context, caseID string, inputs []timeline.EventInput) (int, error)
	Merge(ctx context.Context, caseID string) (timeline.MergeResult, error)
	UnlinkDocument(ctx context.Context, caseID, documentID string) (int, error)
}

// Service contains business logic for case documents.
type Service struct {
	Store    object.ObjectStore
	Repo     Repo
	Timeline Timeline

	now   func() time.Time
	newID func() string
}

// NewService constructs a Service.
func NewService(store object.ObjectStore, repo Repo, tl Timeline) *Service {
	return &Service{
		Store:    store,
		Repo:     repo,
		Timeline: tl,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Upload stores a user file, extracts its text, stages it as a
// document_upload event and merges the case timeline.
func (s *Service) Upload(ctx context.Context, caseID, fileName string, r io.Reader) (Document, timeline.MergeResult, error) {
	if caseID == "" || strings.TrimSpace(fileName) == "" {
		return Document{}, timeline.MergeResult{}, ErrInvalidInput
	}

	storageKey, size, mimeType, err := s.Store.Save(ctx, caseID, fileName, r)
	if err != nil {
		return Document{}, timeline.MergeResult{}, fmt.Errorf("save upload: %w", err)
	}

	doc := Document{
		ID:         s.newID(),
		CaseID:     caseID,
		Source:     SourceUpload,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		StorageKey: storageKey,
		CreatedAt:  s.now(),
	}
	doc.ExtractedText = s.extract(ctx, doc)

	doc, _, err = s.Repo.Create(ctx, doc)
	if err != nil {
		return Document{}, timeline.MergeResult{}, err
	}
	if err := s.stage(ctx, doc, doc.CreatedAt); err != nil {
		s.timelineFailed(doc, err)
		return doc, timeline.MergeResult{}, nil
	}
	res, err := s.Timeline.Merge(ctx, caseID)
	if err != nil {
		s.timelineFailed(doc, err)
		return doc, timeline.MergeResult{}, nil
	}
	return doc, res, nil
}

// timelineFailed logs a stored document whose timeline step failed. Any
// staged event is picked up by the next merge.
func (s *Service) timelineFailed(doc Document, err error) {
	telemetry.Warn("documents.timeline_failed", map[string]any{
		"case_id":     doc.CaseID,
		"document_id": doc.ID,
		"error":       err,
	})
}

// Import records a provider attachment and stages its event. The caller
// runs the merge once all attachments are in. Re-imports of the same
// external id return the stored document without touching storage and
// stage its event again, which is a no-op once it is staged.
func (s *Service) Import(ctx context.Context, caseID string, att Attachment, r io.Reader) (Document, error) {
	if caseID == "" || att.ExternalID == "" || strings.TrimSpace(att.FileName) == "" {
		return Document{}, ErrInvalidInput
	}
	if existing, err := s.Repo.GetByExternalID(ctx, caseID, att.ExternalID); err == nil {
		return existing, s.stage(ctx, existing, attachmentDate(att, existing))
	} else if !errors.Is(err, ErrNotFound) {
		return Document{}, err
	}

	key, err := object.AttachmentKey(caseID, att.ExternalID, att.FileName)
	if err != nil {
		return Document{}, errors.Join(ErrInvalidInput, err)
	}
	size, err := s.Store.SaveWithKey(ctx, key, att.MimeType, r)
	if err != nil {
		return Document{}, fmt.Errorf("save attachment: %w", err)
	}

	doc := Document{
		ID:         s.newID(),
		CaseID:     caseID,
		Source:     SourceProvider,
		ExternalID: att.ExternalID,
		FileName:   att.FileName,
		MimeType:   att.MimeType,
		SizeBytes:  size,
		StorageKey: key,
		CreatedAt:  s.now(),
	}
	doc.ExtractedText = s.extract(ctx, doc)

	stored, _, err := s.Repo.Create(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	return stored, s.stage(ctx, stored, attachmentDate(att, stored))
}

// Known reports whether a provider attachment is already stored for the
// case with its event staged. A stored attachment whose staging failed is
// staged again here, so redeliveries repair it without a new download.
func (s *Service) Known(ctx context.Context, caseID string, att Attachment) bool {
	doc, err := s.Repo.GetByExternalID(ctx, caseID, att.ExternalID)
	if err != nil {
		return false
	}
	if err := s.stage(ctx, doc, attachmentDate(att, doc)); err != nil {
		s.timelineFailed(doc, err)
		return false
	}
	return true
}

func attachmentDate(att Attachment, doc Document) time.Time {
	if att.Date.IsZero() {
		return doc.CreatedAt
	}
	return att.Date
}

// extract is best-effort: a document without text still reaches the
// timeline under its file name.
func (s *Service) extract(ctx context.Context, doc Document) string {
	text, err := extract.FromStore(ctx, s.Store, doc.StorageKey, doc.MimeType, doc.FileName)
	if err != nil {
		telemetry.Warn("documents.extract_failed", map[string]any{
			"case_id":     doc.CaseID,
			"document_id": doc.ID,
			"mime_type":   doc.MimeType,
			"error":       err,
		})
		return ""
	}
	return text
}

func (s *Service) stage(ctx context.Context, doc Document, fallback time.Time) error {
	_, err := s.Timeline.Stage(ctx, doc.CaseID, []timeline.EventInput{documentEvent(doc, fallback)})
	return err
}

// List returns a case's documents.
func (s *Service) List(ctx context.Context, caseID string, limit, offset int) ([]Document, error) {
	if caseID == "" {
		return nil, ErrInvalidInput
	}
	return s.Repo.ListByCase(ctx, caseID, limit, offset)
}

// Get returns one case document.
func (s *Service) Get(ctx context.Context, caseID, documentID string) (Document, error) {
	return s.Repo.GetByID(ctx, caseID, documentID)
}

// Delete removes a document and every timeline reference to it. The stored
// object is removed last; failing to do so only leaves an orphaned blob.
func (s *Service) Delete(ctx context.Context, caseID, documentID string) error {
	doc, err := s.Repo.GetByID(ctx, caseID, documentID)
	if err != nil {
		return err
	}
	if _, err := s.Timeline.UnlinkDocument(ctx, caseID, documentID); err != nil {
		return fmt.Errorf("unlink document: %w", err)
	}
	if err := s.Repo.Delete(ctx, caseID, documentID); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, doc.StorageKey); err != nil {
		telemetry.Warn("documents.blob_delete_failed", map[string]any{
			"case_id":     caseID,
			"document_id": documentID,
			"error":       err,
		})
	}
	telemetry.Info("documents.deleted", map[string]any{
		"case_id":     caseID,
		"document_id": documentID,
	})
	return nil
}
