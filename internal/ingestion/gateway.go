package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/documents"
	"caseflow-backend/internal/provider"
	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/telemetry"
	"caseflow-backend/internal/timeline"
)

const (
	defaultProcessingTimeout     = 300 * time.Second
	defaultAttachmentConcurrency = 5
)

// Timeline is the merge engine as the gateway uses it.
type Timeline interface {
	Stage(ctx context.Context, caseID string, inputs []timeline.EventInput) (int, error)
	Merge(ctx context.Context, caseID string) (timeline.MergeResult, error)
}

// Attachments records provider files as case documents.
type Attachments interface {
	Known(ctx context.Context, caseID string, att documents.Attachment) bool
	Import(ctx context.Context, caseID string, att documents.Attachment, r io.Reader) (documents.Document, error)
}

// Provider is the outbound side of the provider API.
type Provider interface {
	RequestCaseData(ctx context.Context, req provider.CaseRequest) (string, error)
	DownloadAttachment(ctx context.Context, ref string) (provider.Download, error)
}

// Deps are the collaborators a Gateway needs. Provider may be nil, in which
// case attachments are skipped and Dispatch fails.
type Deps struct {
	Requests   Repo
	Cases      cases.Repo
	Timeline   Timeline
	Documents  Attachments
	Provider   Provider
	Classifier *Classifier
}

// Options bound the work a single delivery may do.
type Options struct {
	// ProcessingTimeout is the hard deadline for enrichment and the age
	// after which an unfinished delivery claim may be taken over.
	ProcessingTimeout     time.Duration
	AttachmentConcurrency int
}

// Gateway turns verified provider deliveries into case state.
type Gateway struct {
	Deps
	opts Options
	now  func() time.Time
}

// NewGateway constructs a Gateway.
func NewGateway(deps Deps, opts Options) *Gateway {
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = defaultProcessingTimeout
	}
	if opts.AttachmentConcurrency <= 0 {
		opts.AttachmentConcurrency = defaultAttachmentConcurrency
	}
	if deps.Classifier == nil {
		deps.Classifier = DefaultClassifier()
	}
	return &Gateway{
		Deps: deps,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle applies one decoded delivery.
func (g *Gateway) Handle(ctx context.Context, ev Event) (Result, error) {
	req, err := g.Requests.Get(ctx, ev.ReferenceID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return Result{RequestID: ev.ReferenceID}, ErrUnknownReference
		}
		return Result{RequestID: ev.ReferenceID}, err
	}

	switch ev.Type {
	case EventResponseCreated:
		return g.handleResponse(ctx, req, ev)
	case EventRequestCompleted:
		return g.finish(ctx, req, StatusCompleted, "", "")
	case EventApplicationError:
		code, msg := ev.Payload.Status, ""
		if ev.Payload.Error != nil {
			code, msg = ev.Payload.Error.Code, ev.Payload.Error.Message
		}
		return g.finish(ctx, req, StatusFailed, code, msg)
	default:
		telemetry.Info("ingestion.unknown_event", map[string]any{
			"event_type": string(ev.Type),
			"request_id": req.RequestID,
			"case_id":    req.CaseID,
		})
		return Result{Outcome: OutcomeIgnored, CaseID: req.CaseID, RequestID: req.RequestID}, nil
	}
}

func (g *Gateway) finish(ctx context.Context, req Request, status Status, code, msg string) (Result, error) {
	res := Result{Outcome: OutcomeProcessed, CaseID: req.CaseID, RequestID: req.RequestID}
	if req.Status.Terminal() {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	if _, err := g.Requests.SetStatus(ctx, req.RequestID, status, code, msg); err != nil {
		return res, fmt.Errorf("set request status: %w", err)
	}
	fields := map[string]any{
		"request_id": req.RequestID,
		"case_id":    req.CaseID,
		"status":     string(status),
	}
	if status == StatusFailed {
		fields["error_code"] = code
		fields["error_message"] = msg
		telemetry.Warn("ingestion.request_failed", fields)
	} else {
		telemetry.Info("ingestion.request_completed", fields)
	}
	return res, nil
}

func (g *Gateway) handleResponse(ctx context.Context, req Request, ev Event) (Result, error) {
	res := Result{CaseID: req.CaseID, RequestID: req.RequestID}
	phase := cases.PhaseFinal
	if ev.Cached() {
		phase = cases.PhaseCached
	}

	if phase == cases.PhaseFinal {
		cs, err := g.Cases.GetByID(ctx, req.CaseID)
		if err != nil {
			return res, fmt.Errorf("load case: %w", err)
		}
		if cs.HasProcessed(req.RequestID) {
			return g.duplicate(res, phase), nil
		}
	}

	owned, err := g.Cases.ClaimDelivery(ctx, req.CaseID, req.RequestID, phase, g.opts.ProcessingTimeout)
	if err != nil {
		return res, fmt.Errorf("claim delivery: %w", err)
	}
	if !owned {
		return g.duplicate(res, phase), nil
	}

	if _, err := g.Requests.SetStatus(ctx, req.RequestID, StatusProcessing, "", ""); err != nil {
		g.release(ctx, req, phase)
		return res, fmt.Errorf("set request status: %w", err)
	}

	var lawsuit *Lawsuit
	if data := ev.Payload.ResponseData; data != nil {
		lawsuit = data.Lawsuit
		g.enrich(ctx, req.CaseID, data, &res)
	}

	if phase == cases.PhaseCached {
		if err := g.Cases.CompleteDelivery(ctx, req.CaseID, req.RequestID, phase); err != nil {
			telemetry.Warn("ingestion.claim_complete_failed", map[string]any{
				"case_id":    req.CaseID,
				"request_id": req.RequestID,
				"error":      err,
			})
		}
		res.Outcome = OutcomeCached
		return res, nil
	}

	res.CaseType = g.Classifier.Classify(lawsuit)
	enrichment := cases.Enrichment{RequestID: req.RequestID, CaseType: res.CaseType}
	if lawsuit != nil {
		enrichment.Metadata = &cases.Metadata{
			LawsuitNumber: lawsuit.Number,
			Court:         lawsuit.Court,
			Title:         lawsuit.Title,
			Subject:       lawsuit.Subject,
		}
	}
	updated, err := g.Cases.ApplyEnrichment(ctx, req.CaseID, enrichment)
	if err != nil {
		g.release(ctx, req, phase)
		return res, fmt.Errorf("apply enrichment: %w", err)
	}

	res.Outcome = OutcomeProcessed
	telemetry.Info("ingestion.case_enriched", map[string]any{
		"case_id":           req.CaseID,
		"request_id":        req.RequestID,
		"case_type":         res.CaseType,
		"onboarding_status": string(updated.OnboardingStatus),
		"staged":            res.Staged,
		"attachments":       res.Attachments,
		"conflicts":         res.Conflicts,
	})
	return res, nil
}

func (g *Gateway) duplicate(res Result, phase cases.DeliveryPhase) Result {
	metrics.IncWebhookDuplicate()
	telemetry.Info("ingestion.duplicate", map[string]any{
		"case_id":    res.CaseID,
		"request_id": res.RequestID,
		"phase":      string(phase),
	})
	res.Outcome = OutcomeDuplicate
	return res
}

// release frees the claim so a provider retry can process the delivery. It
// runs detached from ctx, which may already be cancelled.
func (g *Gateway) release(ctx context.Context, req Request, phase cases.DeliveryPhase) {
	if err := g.Cases.ReleaseDelivery(context.WithoutCancel(ctx), req.CaseID, req.RequestID, phase); err != nil {
		telemetry.Error("ingestion.claim_release_failed", map[string]any{
			"case_id":    req.CaseID,
			"request_id": req.RequestID,
			"phase":      string(phase),
			"error":      err,
		})
	}
}

// enrich stages official movements, merges, imports attachments and merges
// again, all under the processing deadline. Failures degrade to log lines.
func (g *Gateway) enrich(ctx context.Context, caseID string, data *ResponseData, res *Result) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.ProcessingTimeout)
	defer cancel()

	res.Staged = g.stageMovements(ctx, caseID, data.Movements)
	g.merge(ctx, caseID, res)

	if len(data.Attachments) == 0 {
		return
	}
	res.Attachments = g.importAttachments(ctx, caseID, data.Attachments)
	if res.Attachments > 0 {
		g.merge(ctx, caseID, res)
	}
}

func (g *Gateway) stageMovements(ctx context.Context, caseID string, movements []Movement) int {
	inputs := make([]timeline.EventInput, 0, len(movements))
	for _, m := range movements {
		date, ok := parseDate(m.Date)
		if !ok {
			telemetry.Warn("ingestion.movement_skipped", map[string]any{
				"case_id":     caseID,
				"movement_id": m.ID,
				"date":        m.Date,
			})
			continue
		}
		if strings.TrimSpace(m.Type) == "" && strings.TrimSpace(m.Description) == "" {
			continue
		}
		inputs = append(inputs, timeline.EventInput{
			Source:      timeline.SourceOfficialFeed,
			ExternalID:  m.ID,
			EventDate:   date,
			EventType:   m.Type,
			Description: m.Description,
		})
	}
	if len(inputs) == 0 {
		return 0
	}
	n, err := g.Timeline.Stage(ctx, caseID, inputs)
	if err != nil {
		telemetry.Warn("ingestion.stage_failed", map[string]any{
			"case_id": caseID,
			"error":   err,
		})
		return 0
	}
	return n
}

func (g *Gateway) merge(ctx context.Context, caseID string, res *Result) {
	mr, err := g.Timeline.Merge(ctx, caseID)
	if err != nil {
		telemetry.Warn("ingestion.merge_failed", map[string]any{
			"case_id": caseID,
			"error":   err,
		})
		return
	}
	res.Conflicts += mr.Conflicts
}

func (g *Gateway) importAttachments(ctx context.Context, caseID string, refs []AttachmentRef) int {
	if g.Provider == nil || g.Documents == nil {
		telemetry.Warn("ingestion.attachments_skipped", map[string]any{
			"case_id": caseID,
			"count":   len(refs),
		})
		return 0
	}

	var imported atomic.Int32
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.AttachmentConcurrency)
	for _, ref := range refs {
		eg.Go(func() error {
			if g.Documents.Known(egCtx, caseID, attachmentFrom(ref)) {
				return nil
			}
			if err := g.importAttachment(egCtx, caseID, ref); err != nil {
				telemetry.Warn("ingestion.attachment_failed", map[string]any{
					"case_id":       caseID,
					"attachment_id": ref.ID,
					"error":         err,
				})
				return nil
			}
			imported.Add(1)
			return nil
		})
	}
	_ = eg.Wait()
	return int(imported.Load())
}

func (g *Gateway) importAttachment(ctx context.Context, caseID string, ref AttachmentRef) error {
	source := ref.URL
	if source == "" {
		source = "attachments/" + ref.ID
	}
	dl, err := g.Provider.DownloadAttachment(ctx, source)
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	att := attachmentFrom(ref)
	if att.MimeType == "" {
		att.MimeType = dl.ContentType
	}
	_, err = g.Documents.Import(ctx, caseID, att, dl.Body)
	return err
}

func attachmentFrom(ref AttachmentRef) documents.Attachment {
	att := documents.Attachment{
		ExternalID: ref.ID,
		FileName:   ref.Name,
		MimeType:   ref.ContentType,
	}
	if date, ok := parseDate(ref.Date); ok {
		att.Date = date
	}
	return att
}

// Dispatch asks the provider for a case's data and records the pending
// request the webhook will later reference.
func (g *Gateway) Dispatch(ctx context.Context, caseID string) (Request, error) {
	if g.Provider == nil {
		return Request{}, ErrProviderUnavailable
	}
	cs, err := g.Cases.GetByID(ctx, caseID)
	if err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(cs.Metadata.LawsuitNumber) == "" {
		return Request{}, ErrNoLawsuitNumber
	}
	requestID, err := g.Provider.RequestCaseData(ctx, provider.CaseRequest{
		CaseID:        cs.ID,
		LawsuitNumber: cs.Metadata.LawsuitNumber,
		Court:         cs.Metadata.Court,
		Attachments:   true,
	})
	if err != nil {
		return Request{}, fmt.Errorf("dispatch: %w", err)
	}
	now := g.now()
	req := Request{
		RequestID: requestID,
		CaseID:    cs.ID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.Requests.Create(ctx, req); err != nil {
		return Request{}, err
	}
	telemetry.Info("ingestion.dispatched", map[string]any{
		"case_id":    cs.ID,
		"request_id": requestID,
	})
	return req, nil
}

// ListRequests lists a case's provider requests.
func (g *Gateway) ListRequests(ctx context.Context, caseID string) ([]Request, error) {
	return g.Requests.ListByCase(ctx, caseID)
}
