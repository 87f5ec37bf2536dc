package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	assignmentsrepo "github.com/zenGate-Global/tender-engine/domains/assignments/be/repo"
	assignments "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/storage"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

type fixture struct {
	ctx         context.Context
	tenantID    uuid.UUID
	repo        *repo.MemoryRepository
	grants      *assignmentsrepo.MemoryRepository
	assignments assignments.Service
	queue       *queue.MemoryQueue
	hub         *broadcast.Hub
	svc         service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		tenantID: uuid.New(),
		repo:     repo.NewMemoryRepository(),
		grants:   assignmentsrepo.NewMemoryRepository(),
		queue:    queue.NewMemoryQueue(),
		hub:      broadcast.NewHub(16),
	}
	f.ctx = tenant.WithSpace(context.Background(), tenant.NewSpace("test", f.tenantID))
	f.assignments = assignments.New(f.grants)
	f.svc = service.New(service.Dependencies{
		Repo:       f.repo,
		Authorizer: f.assignments,
		Queue:      f.queue,
		Publisher:  f.hub,
		Receipts:   store,
		Bucket:     "receipts-test",
	})
	return f
}

func (f *fixture) tender(t *testing.T, grants map[string]string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.repo.AddTender(f.tenantID, id)
	f.grants.AddTender(f.tenantID, id)
	for user, role := range grants {
		_, err := f.assignments.Set(f.ctx, requesttrace.System("seed"), id, user, role)
		require.NoError(t, err)
	}
	return id
}

func receiptKey(tenderID uuid.UUID, name string) *string {
	key := service.ReceiptPrefix(tenderID) + name
	return &key
}

func TestCreateWithReceiptQueuesParse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"alice": "contributor"})
	events, cancel := f.hub.Subscribe(broadcast.TenantChannel(f.tenantID))
	defer cancel()

	result, err := f.svc.Create(f.ctx, requesttrace.User("alice", false), tenderID, service.CreateInput{
		Method:     "Portal",
		ReceiptKey: receiptKey(tenderID, "r1.pdf"),
		Notes:      "  filed before deadline ",
	})
	require.NoError(t, err)
	require.Equal(t, service.MethodPortal, result.Submission.Method)
	require.Equal(t, "alice", result.Submission.SubmittedBy)
	require.Equal(t, "filed before deadline", result.Submission.Notes)
	require.NotNil(t, result.ParseJob)
	require.False(t, result.ParseJob.Deduplicated)
	require.Equal(t, persistence.ParseStatusQueued, result.Submission.ParseStatus)
	require.Equal(t, 1, f.queue.Len(queue.ParseQueue))

	stored, ok := f.repo.Record(result.Submission.ID)
	require.True(t, ok)
	require.Equal(t, persistence.ParseStatusQueued, stored.ParseStatus)
	require.NotNil(t, stored.QueuedAt)
	require.Nil(t, stored.ParsedAt)

	select {
	case evt := <-events:
		require.Equal(t, broadcast.EventParseQueued, evt.Type)
		require.Equal(t, result.ParseJob.JobID, evt.JobID)
		require.Contains(t, string(evt.Data), result.Submission.ID.String())
	case <-time.After(time.Second):
		t.Fatal("expected parse.queued event")
	}

	job, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, service.ParseDedupeKey+result.Submission.ID.String(), job.DedupeKey)
	require.Equal(t, f.tenantID, job.TenantID)

	var payload service.ParsePayload
	require.NoError(t, job.Decode(&payload))
	require.Equal(t, result.Submission.ID, payload.SubmissionID)
	require.Equal(t, service.ReasonCreated, payload.Reason)
}

func TestCreateWithoutReceiptDoesNotQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"owner": "owner"})

	empty := "   "
	result, err := f.svc.Create(f.ctx, requesttrace.User("owner", false), tenderID, service.CreateInput{
		Method:     "email",
		ReceiptKey: &empty,
	})
	require.NoError(t, err)
	require.Nil(t, result.ParseJob)
	require.Nil(t, result.Submission.ReceiptKey)
	require.Equal(t, persistence.ParseStatusIdle, result.Submission.ParseStatus)
	require.Equal(t, 0, f.queue.Len(queue.ParseQueue))
}

func TestCreateRequiresContributor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"viewer": "viewer"})
	input := service.CreateInput{Method: "portal"}

	_, err := f.svc.Create(f.ctx, requesttrace.User("viewer", false), tenderID, input)
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.Create(f.ctx, requesttrace.User("stranger", false), tenderID, input)
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.Create(f.ctx, requesttrace.User("admin", true), tenderID, input)
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, requesttrace.User("admin", true), uuid.New(), input)
	require.ErrorIs(t, err, service.ErrTenderNotFound)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, nil)
	other := uuid.New()
	future := time.Now().Add(48 * time.Hour)

	_, err := f.svc.Create(f.ctx, requesttrace.User("admin", true), tenderID, service.CreateInput{
		Method:      "fax",
		SubmittedAt: &future,
		ReceiptKey:  receiptKey(other, "r.pdf"),
	})
	var validation *service.ValidationError
	require.True(t, errors.As(err, &validation))
	require.Contains(t, validation.Fields, "method")
	require.Contains(t, validation.Fields, "submittedAt")
	require.Contains(t, validation.Fields, "receiptKey")

	_, err = f.svc.Create(f.ctx, requesttrace.User("admin", true), tenderID, service.CreateInput{
		Method:     "portal",
		ReceiptKey: receiptKey(tenderID, "../../other/r.pdf"),
	})
	require.True(t, errors.As(err, &validation))
	require.Contains(t, validation.Fields, "receiptKey")
}

func TestUpdateQueuesOnlyWhenReceiptChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"bob": "contributor"})
	actor := requesttrace.User("bob", false)

	created, err := f.svc.Create(f.ctx, actor, tenderID, service.CreateInput{Method: "courier"})
	require.NoError(t, err)
	require.Nil(t, created.ParseJob)

	notes := "courier receipt pending"
	updated, err := f.svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{Notes: &notes})
	require.NoError(t, err)
	require.Nil(t, updated.ParseJob)
	require.Equal(t, notes, updated.Submission.Notes)

	key := receiptKey(tenderID, "scan.png")
	updated, err = f.svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{ReceiptKey: key})
	require.NoError(t, err)
	require.NotNil(t, updated.ParseJob)
	require.Equal(t, 1, f.queue.Len(queue.ParseQueue))

	updated, err = f.svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{ReceiptKey: key})
	require.NoError(t, err)
	require.Nil(t, updated.ParseJob)

	cleared := ""
	updated, err = f.svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{ReceiptKey: &cleared})
	require.NoError(t, err)
	require.Nil(t, updated.ParseJob)
	require.Nil(t, updated.Submission.ReceiptKey)

	_, err = f.svc.Update(f.ctx, requesttrace.User("mallory", false), created.Submission.ID, service.UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.Update(f.ctx, actor, uuid.New(), service.UpdateInput{Notes: &notes})
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestParseEnqueueIsDeduplicatedWhileQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"owner": "owner"})
	actor := requesttrace.User("owner", false)

	created, err := f.svc.Create(f.ctx, actor, tenderID, service.CreateInput{
		Method:     "portal",
		ReceiptKey: receiptKey(tenderID, "r.pdf"),
	})
	require.NoError(t, err)

	again, err := f.svc.Reparse(f.ctx, actor, created.Submission.ID)
	require.NoError(t, err)
	require.True(t, again.Deduplicated)
	require.Equal(t, created.ParseJob.JobID, again.JobID)
	require.Equal(t, 1, f.queue.Len(queue.ParseQueue))
}

func TestReparseRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"owner": "owner", "helper": "contributor"})

	withReceipt, err := f.svc.Create(f.ctx, requesttrace.User("helper", false), tenderID, service.CreateInput{
		Method:     "portal",
		ReceiptKey: receiptKey(tenderID, "r.txt"),
	})
	require.NoError(t, err)
	withoutReceipt, err := f.svc.Create(f.ctx, requesttrace.User("helper", false), tenderID, service.CreateInput{Method: "email"})
	require.NoError(t, err)

	_, err = f.svc.Reparse(f.ctx, requesttrace.User("helper", false), withReceipt.Submission.ID)
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.Reparse(f.ctx, requesttrace.User("owner", false), withoutReceipt.Submission.ID)
	var validation *service.ValidationError
	require.True(t, errors.As(err, &validation))
	require.Contains(t, validation.Fields, "receiptKey")

	_, err = f.svc.Reparse(f.ctx, requesttrace.User("admin", true), uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)

	// A finished parse releases the dedupe key; a forced re-parse then queues a new job.
	job, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.queue.Ack(context.Background(), job))

	reparsed, err := f.svc.Reparse(f.ctx, requesttrace.User("owner", false), withReceipt.Submission.ID)
	require.NoError(t, err)
	require.False(t, reparsed.Deduplicated)
	require.NotEqual(t, job.ID, reparsed.JobID)
}

func TestReceiptUploadURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"alice": "contributor", "vera": "viewer"})

	upload, err := f.svc.ReceiptUploadURL(f.ctx, requesttrace.User("alice", false), tenderID, service.UploadInput{ContentType: "application/PDF; charset=binary"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(upload.ReceiptKey, service.ReceiptPrefix(tenderID)))
	require.True(t, strings.HasSuffix(upload.ReceiptKey, ".pdf"))
	require.Equal(t, "PUT", upload.Method)
	require.Equal(t, "application/pdf", upload.ContentType)
	require.Contains(t, upload.URL, "receipts-test/"+tenant.BuildBasePrefix("test", f.tenantID)+upload.ReceiptKey)
	require.WithinDuration(t, time.Now().Add(service.ReceiptUploadTTL), upload.ExpiresAt, 5*time.Second)

	_, err = f.svc.ReceiptUploadURL(f.ctx, requesttrace.User("vera", false), tenderID, service.UploadInput{ContentType: "image/png"})
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.ReceiptUploadURL(f.ctx, requesttrace.User("alice", false), tenderID, service.UploadInput{ContentType: "application/x-msdownload"})
	var validation *service.ValidationError
	require.True(t, errors.As(err, &validation))

	noStore := service.New(service.Dependencies{Repo: f.repo, Authorizer: f.assignments})
	_, err = noStore.ReceiptUploadURL(f.ctx, requesttrace.User("alice", false), tenderID, service.UploadInput{ContentType: "image/png"})
	require.ErrorIs(t, err, service.ErrUploadsOff)
}

func TestReadsAreTenantScoped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, nil)
	admin := requesttrace.User("admin", true)

	early := time.Now().Add(-2 * time.Hour)
	late := time.Now().Add(-time.Hour)
	first, err := f.svc.Create(f.ctx, admin, tenderID, service.CreateInput{Method: "portal", SubmittedAt: &early})
	require.NoError(t, err)
	second, err := f.svc.Create(f.ctx, admin, tenderID, service.CreateInput{Method: "email", SubmittedAt: &late})
	require.NoError(t, err)

	items, err := f.svc.ListByTender(f.ctx, tenderID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, second.Submission.ID, items[0].ID)
	require.Equal(t, first.Submission.ID, items[1].ID)

	got, err := f.svc.Get(f.ctx, first.Submission.ID)
	require.NoError(t, err)
	require.Equal(t, tenderID, got.TenderID)

	otherTenant := tenant.WithSpace(context.Background(), tenant.NewSpace("test", uuid.New()))
	_, err = f.svc.Get(otherTenant, first.Submission.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.svc.ListByTender(otherTenant, tenderID)
	require.ErrorIs(t, err, service.ErrTenderNotFound)
}

// unavailableQueue refuses enqueues while down is set.
type unavailableQueue struct {
	*queue.MemoryQueue
	down bool
}

func (q *unavailableQueue) Enqueue(ctx context.Context, job queue.Job) (queue.EnqueueResult, error) {
	if q.down {
		return queue.EnqueueResult{}, errors.New("redis: connection refused")
	}
	return q.MemoryQueue.Enqueue(ctx, job)
}

func TestReplacingParsedReceiptDropsResultAndStaysSweepable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	q := &unavailableQueue{MemoryQueue: f.queue}
	svc := service.New(service.Dependencies{Repo: f.repo, Authorizer: f.assignments, Queue: q, Publisher: f.hub})
	tenderID := f.tender(t, map[string]string{"bob": "contributor"})
	actor := requesttrace.User("bob", false)

	oldKey := receiptKey(tenderID, "old.pdf")
	created, err := svc.Create(f.ctx, actor, tenderID, service.CreateInput{Method: "portal", ReceiptKey: oldKey})
	require.NoError(t, err)
	job, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	version := "v1"
	_, err = f.repo.SaveResult(f.ctx, persistence.SaveParseResultParams{
		ID: created.Submission.ID, ReceiptKey: oldKey, Parsed: []byte(`{"portal":"ted"}`),
		ParsedAt: time.Now().UTC(), ParseVersion: &version, Status: persistence.ParseStatusSucceeded,
	})
	require.NoError(t, err)
	require.NoError(t, f.queue.Ack(context.Background(), job))

	q.down = true
	updated, err := svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{ReceiptKey: receiptKey(tenderID, "new.pdf")})
	require.NoError(t, err)
	require.Nil(t, updated.ParseJob)
	require.Equal(t, persistence.ParseStatusQueued, updated.Submission.ParseStatus)

	stored, ok := f.repo.Record(created.Submission.ID)
	require.True(t, ok)
	require.Nil(t, stored.Parsed)
	require.Nil(t, stored.ParsedAt)
	require.Nil(t, stored.ParseVersion)
	require.NotNil(t, stored.QueuedAt)

	stale, err := f.repo.ListStale(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, []persistence.SubmissionRef{{TenantID: f.tenantID, ID: created.Submission.ID}}, stale)
}

func TestReplacingReceiptWhileParseRunsRejectsTheOldResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	tenderID := f.tender(t, map[string]string{"bob": "contributor"})
	actor := requesttrace.User("bob", false)

	oldKey := receiptKey(tenderID, "old.pdf")
	created, err := f.svc.Create(f.ctx, actor, tenderID, service.CreateInput{Method: "portal", ReceiptKey: oldKey})
	require.NoError(t, err)
	_, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	updated, err := f.svc.Update(f.ctx, actor, created.Submission.ID, service.UpdateInput{ReceiptKey: receiptKey(tenderID, "new.pdf")})
	require.NoError(t, err)
	require.NotNil(t, updated.ParseJob)
	require.True(t, updated.ParseJob.Deduplicated)

	version := "v1"
	_, err = f.repo.SaveResult(f.ctx, persistence.SaveParseResultParams{
		ID: created.Submission.ID, ReceiptKey: oldKey, Parsed: []byte(`{"portal":"ted"}`),
		ParsedAt: time.Now().UTC(), ParseVersion: &version, Status: persistence.ParseStatusSucceeded,
	})
	require.ErrorIs(t, err, persistence.ErrReceiptChanged)

	stored, ok := f.repo.Record(created.Submission.ID)
	require.True(t, ok)
	require.Nil(t, stored.ParsedAt)
	require.Equal(t, persistence.ParseStatusQueued, stored.ParseStatus)
}
