package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	assignmentsrepo "github.com/zenGate-Global/tender-engine/domains/assignments/be/repo"
	assignments "github.com/zenGate-Global/tender-engine/domains/assignments/be/service"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/parsing"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/repo"
	"github.com/zenGate-Global/tender-engine/domains/submissions/be/service"
	"github.com/zenGate-Global/tender-engine/platform/go/broadcast"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/queue"
	"github.com/zenGate-Global/tender-engine/platform/go/requesttrace"
	"github.com/zenGate-Global/tender-engine/platform/go/storage"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

const (
	testEnv    = "test"
	testBucket = "receipts-test"
)

const goszakupText = `goszakup.gov.kz
Квитанция № GZ-2024-000555
Номер заявки: 4411
Дата подачи: 01.10.2024 10:00
Сумма: 2 500 000 ₸
`

type stubParser struct {
	parseFn func(ctx context.Context, data []byte) (parsing.Receipt, error)
}

func (s stubParser) Parse(ctx context.Context, data []byte) (parsing.Receipt, error) {
	if s.parseFn == nil {
		panic("parseFn not configured")
	}
	return s.parseFn(ctx, data)
}

func (stubParser) Version() string { return "stub-1" }

type fixture struct {
	t        *testing.T
	ctx      context.Context
	tenantID uuid.UUID
	tenderID uuid.UUID
	repo     *repo.MemoryRepository
	store    *storage.LocalStore
	queue    *queue.MemoryQueue
	hub      *broadcast.Hub
	svc      service.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		tenantID: uuid.New(),
		tenderID: uuid.New(),
		repo:     repo.NewMemoryRepository(),
		store:    store,
		queue:    queue.NewMemoryQueue(),
		hub:      broadcast.NewHub(32),
	}
	f.ctx = tenant.WithSpace(context.Background(), tenant.NewSpace(testEnv, f.tenantID))
	grants := assignmentsrepo.NewMemoryRepository()
	grants.AddTender(f.tenantID, f.tenderID)
	f.repo.AddTender(f.tenantID, f.tenderID)
	f.svc = service.New(service.Dependencies{
		Repo:       f.repo,
		Authorizer: assignments.New(grants),
		Queue:      f.queue,
		Publisher:  f.hub,
		Receipts:   store,
		Bucket:     testBucket,
	})
	return f
}

// submit stores data as a receipt, creates the submission and returns the queued parse job.
func (f *fixture) submit(data []byte, upload bool) (uuid.UUID, queue.Job) {
	f.t.Helper()
	key := service.ReceiptPrefix(f.tenderID) + uuid.NewString() + ".bin"
	if upload {
		loc, err := storage.ResolveObjectLocation(tenant.NewSpace(testEnv, f.tenantID), testBucket, key)
		require.NoError(f.t, err)
		require.NoError(f.t, f.store.Put(f.ctx, loc, data, "application/octet-stream"))
	}

	result, err := f.svc.Create(f.ctx, requesttrace.User("admin", true), f.tenderID, service.CreateInput{
		Method:     service.MethodPortal,
		ReceiptKey: &key,
	})
	require.NoError(f.t, err)
	require.NotNil(f.t, result.ParseJob)

	job, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 50*time.Millisecond)
	require.NoError(f.t, err)
	require.True(f.t, ok)
	return result.Submission.ID, job
}

func (f *fixture) processor(parser ReceiptParser) *Processor {
	return NewProcessor(ProcessorDeps{
		Store:     f.repo,
		Receipts:  f.store,
		Bucket:    testBucket,
		Parser:    parser,
		Publisher: f.hub,
		EnvKey:    testEnv,
	}, zaptest.NewLogger(f.t))
}

func (f *fixture) pool(handler queue.Handler) *queue.Pool {
	return queue.NewPool(f.queue, handler, queue.PoolConfig{Queue: queue.ParseQueue}, zaptest.NewLogger(f.t))
}

func (f *fixture) record(id uuid.UUID) persistence.SubmissionRecord {
	f.t.Helper()
	record, ok := f.repo.Record(id)
	require.True(f.t, ok)
	return record
}

func errorDocument(t *testing.T, record persistence.SubmissionRecord) parsing.ErrorDetail {
	t.Helper()
	var doc parsing.ErrorDocument
	require.NoError(t, json.Unmarshal(record.Parsed, &doc))
	return doc.Error
}

func drain(events <-chan broadcast.Event) []string {
	var types []string
	for {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		default:
			return types
		}
	}
}

func TestParseTextReceiptSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte(goszakupText), true)
	events, cancel := f.hub.Subscribe(broadcast.JobChannel(job.ID))
	defer cancel()

	f.pool(f.processor(parsing.NewParser(nil))).Process(context.Background(), job)

	record := f.record(id)
	require.Equal(t, persistence.ParseStatusSucceeded, record.ParseStatus)
	require.NotNil(t, record.ParsedAt)
	require.NotNil(t, record.ParseVersion)
	require.Equal(t, parsing.ChainVersion, *record.ParseVersion)
	require.Equal(t, 1, record.ParseAttempts)
	require.Nil(t, record.QueuedAt)

	var receipt parsing.Receipt
	require.NoError(t, json.Unmarshal(record.Parsed, &receipt))
	require.Equal(t, parsing.PortalGoszakup, receipt.Portal)
	require.Equal(t, "GZ-2024-000555", receipt.ReceiptNumber)
	require.Equal(t, &parsing.Amount{Value: 2500000, Currency: "KZT"}, receipt.Amount)

	require.Equal(t, 0, f.queue.Len(queue.ParseQueue))
	require.Empty(t, f.queue.Dead(queue.ParseQueue))
	require.Equal(t, []string{broadcast.EventParseStarted, broadcast.EventParseSucceeded}, drain(events))
}

func TestCorruptReceiptRecordsErrorAndParsedAt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte("%PDF-1.7\n1 0 obj\n<< /Type /Catal"), true)
	events, cancel := f.hub.Subscribe(broadcast.TenantChannel(f.tenantID))
	defer cancel()

	require.NotPanics(t, func() {
		f.pool(f.processor(parsing.NewParser(nil))).Process(context.Background(), job)
	})

	record := f.record(id)
	require.NotNil(t, record.ParsedAt)
	require.Equal(t, persistence.ParseStatusFailed, record.ParseStatus)
	detail := errorDocument(t, record)
	require.Equal(t, parsing.CodeUnsupportedContent, detail.Code)
	require.NotEmpty(t, detail.Message)
	require.Equal(t, 1, detail.Attempts)

	require.Len(t, f.queue.Dead(queue.ParseQueue), 1)
	require.Contains(t, drain(events), broadcast.EventParseFailed)
}

func TestNoMatchIsARecordedOutcome(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte("Thank you, your documents were received."), true)

	err := f.processor(parsing.NewParser(nil)).Handle(context.Background(), job)
	require.NoError(t, err)

	record := f.record(id)
	require.NotNil(t, record.ParsedAt)
	require.Equal(t, persistence.ParseStatusFailed, record.ParseStatus)
	require.Equal(t, parsing.CodeNoMatch, errorDocument(t, record).Code)
}

func TestMissingReceiptObjectIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit(nil, false)

	f.pool(f.processor(parsing.NewParser(nil))).Process(context.Background(), job)

	record := f.record(id)
	require.NotNil(t, record.ParsedAt)
	require.Equal(t, parsing.CodeReceiptMissing, errorDocument(t, record).Code)
	require.Len(t, f.queue.Dead(queue.ParseQueue), 1)
}

func TestTransientFailuresRetryUntilCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte(goszakupText), true)
	events, cancel := f.hub.Subscribe(broadcast.JobChannel(job.ID))
	defer cancel()

	calls := 0
	processor := f.processor(stubParser{parseFn: func(context.Context, []byte) (parsing.Receipt, error) {
		calls++
		return parsing.Receipt{}, errors.New("ocr service returned 503")
	}})
	pool := f.pool(processor)

	pool.Process(context.Background(), job)
	require.Equal(t, 1, calls)
	require.Nil(t, f.record(id).ParsedAt)
	require.Equal(t, 1, f.queue.Len(queue.ParseQueue))
	require.Empty(t, f.queue.Dead(queue.ParseQueue))
	require.Contains(t, drain(events), broadcast.EventParseRetrying)

	policy := queue.DefaultRetryPolicy()
	job.Attempt = policy.MaxAttempts - 1
	pool.Process(context.Background(), job)

	record := f.record(id)
	require.NotNil(t, record.ParsedAt)
	detail := errorDocument(t, record)
	require.Equal(t, parsing.CodeParseFailed, detail.Code)
	require.Equal(t, policy.MaxAttempts, detail.Attempts)
	require.Len(t, f.queue.Dead(queue.ParseQueue), 1)
	require.NotContains(t, drain(events), broadcast.EventParseRetrying)
}

func TestPanickingParserIsRecordedAsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte(goszakupText), true)

	processor := f.processor(stubParser{parseFn: func(context.Context, []byte) (parsing.Receipt, error) {
		var receipt *parsing.Receipt
		return *receipt, nil
	}})
	require.NotPanics(t, func() { f.pool(processor).Process(context.Background(), job) })

	record := f.record(id)
	require.NotNil(t, record.ParsedAt)
	require.Equal(t, parsing.CodeParseFailed, errorDocument(t, record).Code)
	require.Len(t, f.queue.Dead(queue.ParseQueue), 1)
}

func TestMissingSubmissionDropsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job, err := queue.NewJob(queue.ParseQueue, f.tenantID, service.ParseDedupeKey+"x", service.ParsePayload{SubmissionID: uuid.New()})
	require.NoError(t, err)

	err = f.processor(parsing.NewParser(nil)).Handle(context.Background(), job)
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))
	require.ErrorIs(t, err, persistence.ErrSubmissionNotFound)
}

func TestReparseOverwritesPreviousResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte("Thank you."), true)
	processor := f.processor(parsing.NewParser(nil))
	pool := f.pool(processor)
	pool.Process(context.Background(), job)
	require.Equal(t, persistence.ParseStatusFailed, f.record(id).ParseStatus)

	loc, err := storage.ResolveObjectLocation(tenant.NewSpace(testEnv, f.tenantID), testBucket, *f.record(id).ReceiptKey)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(f.ctx, loc, []byte(goszakupText), "text/plain"))

	_, err = f.svc.Reparse(f.ctx, requesttrace.User("admin", true), id)
	require.NoError(t, err)
	next, ok, err := f.queue.Dequeue(context.Background(), queue.ParseQueue, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	pool.Process(context.Background(), next)

	record := f.record(id)
	require.Equal(t, persistence.ParseStatusSucceeded, record.ParseStatus)
	require.Equal(t, 2, record.ParseAttempts)
}

const goszakupReplacementText = `goszakup.gov.kz
Квитанция № GZ-2024-000777
Номер заявки: 4411
Дата подачи: 02.10.2024 09:30
Сумма: 2 600 000 ₸
`

func TestReceiptReplacedDuringParseParsesTheNewReceipt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte(goszakupText), true)

	newKey := service.ReceiptPrefix(f.tenderID) + "replacement.txt"
	loc, err := storage.ResolveObjectLocation(tenant.NewSpace(testEnv, f.tenantID), testBucket, newKey)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(f.ctx, loc, []byte(goszakupReplacementText), "text/plain"))

	parser := parsing.NewParser(nil)
	calls := 0
	processor := f.processor(stubParser{parseFn: func(ctx context.Context, data []byte) (parsing.Receipt, error) {
		calls++
		if calls == 1 {
			updated, err := f.svc.Update(f.ctx, requesttrace.User("admin", true), id, service.UpdateInput{ReceiptKey: &newKey})
			require.NoError(t, err)
			require.True(t, updated.ParseJob.Deduplicated)
		}
		return parser.Parse(ctx, data)
	}})
	f.pool(processor).Process(context.Background(), job)

	require.Equal(t, 2, calls)
	record := f.record(id)
	require.Equal(t, &newKey, record.ReceiptKey)
	require.Equal(t, persistence.ParseStatusSucceeded, record.ParseStatus)
	require.NotNil(t, record.ParsedAt)
	require.Nil(t, record.QueuedAt)

	var receipt parsing.Receipt
	require.NoError(t, json.Unmarshal(record.Parsed, &receipt))
	require.Equal(t, "GZ-2024-000777", receipt.ReceiptNumber)
	require.Equal(t, 0, f.queue.Len(queue.ParseQueue))
	require.Empty(t, f.queue.Dead(queue.ParseQueue))
}

func TestDeadLetterDoesNotOverwriteNewerReceipt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, job := f.submit([]byte(goszakupText), true)
	require.NoError(t, f.repo.MarkProcessing(f.ctx, id))

	newKey := service.ReceiptPrefix(f.tenderID) + "replacement.txt"
	_, err := f.svc.Update(f.ctx, requesttrace.User("admin", true), id, service.UpdateInput{ReceiptKey: &newKey})
	require.NoError(t, err)

	f.processor(parsing.NewParser(nil)).OnDeadLetter(context.Background(), job, errors.New("ocr service returned 503"))

	record := f.record(id)
	require.Nil(t, record.ParsedAt)
	require.Nil(t, record.Parsed)
	require.Equal(t, persistence.ParseStatusQueued, record.ParseStatus)
	require.NotNil(t, record.QueuedAt)
}

func TestFailureMessageKeepsUTF8Intact(t *testing.T) {
	t.Parallel()

	msg := failureMessage(errors.New(strings.Repeat("ё", 200)))
	require.True(t, utf8.ValidString(msg))
	require.LessOrEqual(t, len(msg), maxFailureMessage)
	require.Equal(t, strings.Repeat("ё", 150), msg)

	require.Equal(t, "short", failureMessage(errors.New("short")))
}
