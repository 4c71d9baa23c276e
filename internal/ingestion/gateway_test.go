package ingestion

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/documents"
	"caseflow-backend/internal/provider"
	"caseflow-backend/internal/shared/storage/object/local"
	"caseflow-backend/internal/timeline"
)

type fakeProvider struct {
	downloads atomic.Int32
	files     map[string]string
	requestID string
}

func (p *fakeProvider) RequestCaseData(_ context.Context, req provider.CaseRequest) (string, error) {
	if p.requestID == "" {
		return "", errors.New("provider down")
	}
	return p.requestID, nil
}

func (p *fakeProvider) DownloadAttachment(_ context.Context, ref string) (provider.Download, error) {
	p.downloads.Add(1)
	body, ok := p.files[ref]
	if !ok {
		return provider.Download{}, &provider.StatusError{Op: "download attachment", Status: 404}
	}
	return provider.Download{Body: io.NopCloser(strings.NewReader(body)), ContentType: "text/plain"}, nil
}

type fixture struct {
	gw       *Gateway
	cases    cases.Repo
	timeline *timeline.Service
	docs     *documents.Service
	requests *MemoryRepo
	provider *fakeProvider
	caseID   string
}

func newFixture(t *testing.T, caseRepo cases.Repo) *fixture {
	t.Helper()
	if caseRepo == nil {
		caseRepo = cases.NewMemoryRepo()
	}
	caseSvc := cases.NewService(caseRepo)
	cs, err := caseSvc.Create(context.Background(), "ws-1", cases.Metadata{LawsuitNumber: "0001234-56.2024.5.02.0001"}, "")
	require.NoError(t, err)

	tl := timeline.NewService(timeline.NewMemoryRepo(), nil)
	docs := documents.NewService(local.New(t.TempDir()), documents.NewMemoryRepo(), tl)
	requests := NewMemoryRepo()
	prov := &fakeProvider{
		files: map[string]string{
			"attachments/att-1":               "Ata de audiência de 01/03/2024",
			"https://files.example/att-2.txt": "Sentença publicada em 2024-04-10",
		},
		requestID: "req-new",
	}
	now := time.Now().UTC()
	require.NoError(t, requests.Create(context.Background(), Request{
		RequestID: "req-1", CaseID: cs.ID, Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}))

	gw := NewGateway(Deps{
		Requests:  requests,
		Cases:     caseRepo,
		Timeline:  tl,
		Documents: docs,
		Provider:  prov,
	}, Options{})
	return &fixture{gw: gw, cases: caseRepo, timeline: tl, docs: docs, requests: requests, provider: prov, caseID: cs.ID}
}

func responseEvent(cached bool) Event {
	return Event{
		Type:        EventResponseCreated,
		ReferenceID: "req-1",
		Payload: Payload{
			Tags: Tags{CachedResponse: cached},
			ResponseData: &ResponseData{
				Lawsuit: &Lawsuit{Number: "0001234-56.2024.5.02.0001", Court: "TRT-2", Subject: "Horas extras"},
				Movements: []Movement{
					{ID: "m1", Date: "2024-03-01", Type: "hearing", Description: "Audiência de conciliação realizada"},
					{ID: "m2", Date: "2024-04-10", Type: "judgment", Description: "Sentença publicada"},
				},
				Attachments: []AttachmentRef{
					{ID: "att-1", Name: "ata.txt"},
					{ID: "att-2", Name: "sentenca.txt", URL: "https://files.example/att-2.txt"},
				},
			},
		},
	}
}

func (f *fixture) snapshot(t *testing.T) (cases.Case, []timeline.Entry, []documents.Document) {
	t.Helper()
	ctx := context.Background()
	cs, err := f.cases.GetByID(ctx, f.caseID)
	require.NoError(t, err)
	entries, err := f.timeline.List(ctx, f.caseID)
	require.NoError(t, err)
	docs, err := f.docs.List(ctx, f.caseID, 0, 0)
	require.NoError(t, err)
	return cs, entries, docs
}

func TestFinalDeliveryEnrichesCase(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.gw.Handle(context.Background(), responseEvent(false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 2, res.Staged)
	assert.Equal(t, 2, res.Attachments)
	assert.Equal(t, "labor", res.CaseType)

	cs, entries, docs := f.snapshot(t)
	assert.Equal(t, cases.OnboardingEnriched, cs.OnboardingStatus)
	assert.Equal(t, cases.LifecycleActive, cs.LifecycleStatus)
	assert.Equal(t, "labor", cs.Type)
	assert.Equal(t, "TRT-2", cs.Metadata.Court)
	assert.Equal(t, []string{"req-1"}, cs.ProcessedRequestIDs)
	assert.Len(t, docs, 2)
	assert.NotEmpty(t, entries)

	req, err := f.requests.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, req.Status)
}

func TestDuplicateFinalDeliveryIsAbsorbed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gw.Handle(ctx, responseEvent(false))
	require.NoError(t, err)
	csOnce, entriesOnce, docsOnce := f.snapshot(t)
	downloads := f.provider.downloads.Load()

	res, err := f.gw.Handle(ctx, responseEvent(false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	csTwice, entriesTwice, docsTwice := f.snapshot(t)
	assert.Equal(t, csOnce, csTwice)
	assert.Equal(t, entriesOnce, entriesTwice)
	assert.Equal(t, docsOnce, docsTwice)
	assert.Equal(t, downloads, f.provider.downloads.Load())
}

func TestConcurrentFinalDeliveriesProcessOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		processed atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gw.Handle(ctx, responseEvent(false))
			if err == nil && res.Outcome == OutcomeProcessed {
				processed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), processed.Load())
	cs, _, _ := f.snapshot(t)
	assert.Equal(t, []string{"req-1"}, cs.ProcessedRequestIDs)
}

func TestCachedThenFinalDelivery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.gw.Handle(ctx, responseEvent(true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCached, res.Outcome)

	cs, entries, _ := f.snapshot(t)
	assert.Equal(t, cases.OnboardingNone, cs.OnboardingStatus)
	assert.NotEmpty(t, entries, "cached payload merges the timeline")
	assert.Empty(t, cs.ProcessedRequestIDs)

	res, err = f.gw.Handle(ctx, responseEvent(true))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome, "second cached delivery is absorbed")

	res, err = f.gw.Handle(ctx, responseEvent(false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome, "final delivery has its own claim")

	cs, entriesAfter, _ := f.snapshot(t)
	assert.Equal(t, cases.OnboardingEnriched, cs.OnboardingStatus)
	assert.Len(t, entriesAfter, len(entries), "same movements do not stage twice")

	res, err = f.gw.Handle(ctx, responseEvent(false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestUnknownReference(t *testing.T) {
	f := newFixture(t, nil)
	ev := responseEvent(false)
	ev.ReferenceID = "missing"
	_, err := f.gw.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestTerminalStatusIsNotOverwritten(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.gw.Handle(ctx, Event{Type: EventRequestCompleted, ReferenceID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	res, err = f.gw.Handle(ctx, Event{
		Type:        EventApplicationError,
		ReferenceID: "req-1",
		Payload:     Payload{Error: &ProviderError{Code: "timeout", Message: "late failure"}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	req, err := f.requests.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, req.Status)
	assert.Empty(t, req.ErrorCode)
}

func TestApplicationErrorMarksRequestFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gw.Handle(ctx, Event{
		Type:        EventApplicationError,
		ReferenceID: "req-1",
		Payload:     Payload{Error: &ProviderError{Code: "not_found", Message: "lawsuit not found"}},
	})
	require.NoError(t, err)

	req, err := f.requests.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, req.Status)
	assert.Equal(t, "not_found", req.ErrorCode)
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.gw.Handle(context.Background(), Event{Type: "SomethingNew", ReferenceID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestAttachmentFailureDegrades(t *testing.T) {
	f := newFixture(t, nil)
	ev := responseEvent(false)
	ev.Payload.ResponseData.Attachments = append(ev.Payload.ResponseData.Attachments, AttachmentRef{ID: "att-404", Name: "missing.pdf"})

	res, err := f.gw.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 2, res.Attachments)
}

type flakyCases struct {
	cases.Repo
	failures atomic.Int32
}

func (r *flakyCases) ApplyEnrichment(ctx context.Context, caseID string, e cases.Enrichment) (cases.Case, error) {
	if r.failures.Add(-1) >= 0 {
		return cases.Case{}, errors.New("db unavailable")
	}
	return r.Repo.ApplyEnrichment(ctx, caseID, e)
}

func TestFailedFinalTransitionReleasesClaim(t *testing.T) {
	repo := &flakyCases{Repo: cases.NewMemoryRepo()}
	repo.failures.Store(1)
	f := newFixture(t, repo)
	ctx := context.Background()

	_, err := f.gw.Handle(ctx, responseEvent(false))
	require.Error(t, err)

	cs, _, _ := f.snapshot(t)
	assert.Equal(t, cases.OnboardingNone, cs.OnboardingStatus)

	res, err := f.gw.Handle(ctx, responseEvent(false))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome, "provider retry succeeds after release")
}

func TestDispatchRecordsPendingRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req, err := f.gw.Dispatch(ctx, f.caseID)
	require.NoError(t, err)
	assert.Equal(t, "req-new", req.RequestID)
	assert.Equal(t, StatusPending, req.Status)

	list, err := f.gw.ListRequests(ctx, f.caseID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.gw.Dispatch(ctx, "missing")
	assert.ErrorIs(t, err, cases.ErrNotFound)
}

func TestDispatchWithoutProvider(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.Provider = nil
	_, err := f.gw.Dispatch(context.Background(), f.caseID)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
