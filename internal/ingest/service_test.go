package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/core"
	"github.com/yuancheng-ma/healthfolio/internal/core/async"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/ocr"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/settings"
	"github.com/yuancheng-ma/healthfolio/internal/testutil"
)

type stubOCR struct{ text string }

func (s *stubOCR) ParseFile(context.Context, string, ocr.Backend) (string, error) {
	return s.text, nil
}
func (s *stubOCR) VLMBackend() ocr.Backend { return ocr.BackendVLMTransformers }

type stubChat struct{ resp string }

func (s *stubChat) Invoke(context.Context, string, string) (string, error) { return s.resp, nil }
func (s *stubChat) Health(context.Context) bool                           { return true }

type stubVision struct{ resp string }

func (s *stubVision) InvokeImage(context.Context, string, []byte) (string, error) {
	return s.resp, nil
}
func (s *stubVision) Health(context.Context) bool { return true }

const goodResponse = `{"indicators": [{"indicator": "血红蛋白", "measured_value": "150g/L", "abnormal": "否"}]}`

type fixture struct {
	svc        *Service
	reports    repository.ReportRepository
	indicators repository.IndicatorRepository
	jobs       repository.ProcessingJobRepository
	batches    repository.BatchRepository
	registry   *settings.Registry
	queue      *async.Queue
	userID     uuid.UUID
}

func newFixture(t *testing.T, clients core.Clients) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	log := slog.Default()

	reports := repository.NewReportRepository(db, log)
	indicators := repository.NewIndicatorRepository(db, log)
	jobs := repository.NewProcessingJobRepository(db, log)
	batches := repository.NewBatchRepository(db, log)
	registry := settings.NewRegistry(repository.NewSettingRepository(db, log), log)

	factory := func(context.Context, *settings.Registry, *slog.Logger) core.Clients { return clients }
	processor := core.NewProcessor(jobs, indicators, registry, factory, core.NewRunner(), t.TempDir(), log)

	queue := async.NewQueue(async.WithWorkers(1), async.WithQueueSize(8), async.WithProcessTimeout(30*time.Second))
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	svc := NewService(reports, jobs, batches, registry, processor, queue, t.TempDir(), log)
	return &fixture{
		svc:        svc,
		reports:    reports,
		indicators: indicators,
		jobs:       jobs,
		batches:    batches,
		registry:   registry,
		queue:      queue,
		userID:     uuid.New(),
	}
}

func defaultClients() core.Clients {
	return core.Clients{
		OCR:    &stubOCR{text: "血红蛋白 150g/L"},
		Chat:   &stubChat{resp: goodResponse},
		Vision: &stubVision{resp: goodResponse},
	}
}

func checkupDate() time.Time {
	return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func TestValidateFile(t *testing.T) {
	assert.NoError(t, ValidateFile("report.pdf", 1024))
	assert.NoError(t, ValidateFile("scan.JPG", constants.MaxFileSizeBytes))

	err := ValidateFile("report.pdf", constants.MaxFileSizeBytes+1)
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	err = ValidateFile("notes.txt", 10)
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	err = ValidateFile("empty.pdf", 0)
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))
}

func TestWorkflowForFileTypes(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	assert.Equal(t, constants.WorkflowOCRLLM, fx.svc.WorkflowFor(ctx, "report.pdf"))
	assert.Equal(t, constants.WorkflowVLModel, fx.svc.WorkflowFor(ctx, "scan.jpg"))

	require.NoError(t, fx.registry.Set(ctx, settings.KeyPDFOCRWorkflow,
		string(constants.WorkflowVLMTransformers), "PDF工作流", ""))
	assert.Equal(t, constants.WorkflowVLMTransformers, fx.svc.WorkflowFor(ctx, "report.pdf"))
}

func (fx *fixture) waitForJob(t *testing.T, jobID uuid.UUID) constants.JobStatus {
	t.Helper()
	var status constants.JobStatus
	require.Eventually(t, func() bool {
		job, err := fx.jobs.GetByID(context.Background(), jobID)
		if err != nil {
			return false
		}
		status = job.Status
		return status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return status
}

func TestUploadAndProcessEndToEnd(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.UploadAndProcess(ctx, &UploadRequest{
		UserID:      fx.userID,
		Filename:    "report.pdf",
		Data:        []byte("%PDF-fake"),
		CheckupDate: checkupDate(),
		Institution: "市第一医院",
	})
	require.NoError(t, err)

	assert.Equal(t, constants.JobStatusCompleted, fx.waitForJob(t, res.JobID))

	saved, err := fx.indicators.ListByReport(ctx, res.ReportID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "血红蛋白", saved[0].Name)
}

func TestUploadRejectsBadInput(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	_, err := fx.svc.UploadAndProcess(ctx, &UploadRequest{
		UserID:      fx.userID,
		Filename:    "report.exe",
		Data:        []byte("x"),
		CheckupDate: checkupDate(),
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	_, err = fx.svc.UploadAndProcess(ctx, &UploadRequest{
		UserID:   fx.userID,
		Filename: "report.pdf",
		Data:     []byte("x"),
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	_, err = fx.svc.UploadAndProcess(ctx, &UploadRequest{
		UserID:      fx.userID,
		Filename:    "report.pdf",
		Data:        []byte("x"),
		CheckupDate: checkupDate(),
		Workflow:    "no_such_workflow",
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))
}

func TestGetProcessingStatusEnforcesOwnership(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.UploadAndProcess(ctx, &UploadRequest{
		UserID:      fx.userID,
		Filename:    "report.pdf",
		Data:        []byte("%PDF-fake"),
		CheckupDate: checkupDate(),
	})
	require.NoError(t, err)
	fx.waitForJob(t, res.JobID)

	job, err := fx.svc.GetProcessingStatus(ctx, fx.userID, res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, job.ID)

	_, err = fx.svc.GetProcessingStatus(ctx, uuid.New(), res.ReportID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func (fx *fixture) waitForBatch(t *testing.T, batchID uuid.UUID) *repositoryBatch {
	t.Helper()
	var out *repositoryBatch
	require.Eventually(t, func() bool {
		batch, err := fx.batches.GetByID(context.Background(), fx.userID, batchID)
		if err != nil {
			return false
		}
		if batch.Status != constants.BatchStatusCompleted {
			return false
		}
		out = &repositoryBatch{batch.CompletedFiles, batch.FailedFiles}
		return true
	}, 15*time.Second, 20*time.Millisecond)
	return out
}

type repositoryBatch struct{ completed, failed int }

func TestBatchUploadHappyPath(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		Name:        "2024年度体检",
		CheckupDate: checkupDate(),
		Institution: "市第一医院",
		Files: []BatchFile{
			{Filename: "page1.pdf", Data: []byte("%PDF-1")},
			{Filename: "page2.pdf", Data: []byte("%PDF-2")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch.TotalFiles)
	assert.Equal(t, []string{"page1.pdf", "page2.pdf"}, res.Accepted)
	assert.Empty(t, res.Rejected)

	counters := fx.waitForBatch(t, res.Batch.ID)
	assert.Equal(t, 2, counters.completed)
	assert.Equal(t, 0, counters.failed)

	items, err := fx.batches.ListItems(ctx, res.Batch.ID)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, constants.JobStatusCompleted, item.Status)
		assert.NotNil(t, item.ReportID)
		assert.NotNil(t, item.JobID)
	}
}

func TestBatchUploadMixedResults(t *testing.T) {
	// The image item fails inside the vision workflow because the bytes are
	// not a decodable image; the PDF item succeeds. The batch still completes.
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		Files: []BatchFile{
			{Filename: "good.pdf", Data: []byte("%PDF-1")},
			{Filename: "broken.jpg", Data: []byte("not an image")},
		},
	})
	require.NoError(t, err)

	counters := fx.waitForBatch(t, res.Batch.ID)
	assert.Equal(t, 1, counters.completed)
	assert.Equal(t, 1, counters.failed)
}

func TestBatchUploadReportsRejectedFiles(t *testing.T) {
	// Invalid files are reported back, not grounds for refusing the batch.
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		Files: []BatchFile{
			{Filename: "good.pdf", Data: []byte("%PDF-1")},
			{Filename: "notes.txt", Data: []byte("plain text")},
			{Filename: "big.pdf", Data: bytes.Repeat([]byte("a"), constants.MaxFileSizeBytes+1)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Batch.TotalFiles)
	assert.Equal(t, []string{"good.pdf"}, res.Accepted)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "notes.txt", res.Rejected[0].Filename)
	assert.Contains(t, res.Rejected[0].Reason, "unsupported file type")
	assert.Equal(t, "big.pdf", res.Rejected[1].Filename)

	counters := fx.waitForBatch(t, res.Batch.ID)
	assert.Equal(t, 1, counters.completed)

	items, err := fx.batches.ListItems(ctx, res.Batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "good.pdf", items[0].Filename)
}

func TestBatchUploadRejectsLimits(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	var files []BatchFile
	for i := 0; i <= constants.MaxBatchFiles; i++ {
		files = append(files, BatchFile{Filename: fmt.Sprintf("f%d.pdf", i), Data: []byte("x")})
	}
	_, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID: fx.userID, CheckupDate: checkupDate(), Files: files,
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	_, err = fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID: fx.userID, CheckupDate: checkupDate(),
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))

	// A batch where every file fails validation is rejected outright.
	_, err = fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		Files: []BatchFile{
			{Filename: "notes.txt", Data: []byte("x")},
			{Filename: "big.pdf", Data: bytes.Repeat([]byte("a"), constants.MaxFileSizeBytes+1)},
		},
	})
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))
}

func TestRetryRequiresFailedItem(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	res, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		Files:       []BatchFile{{Filename: "page1.pdf", Data: []byte("%PDF-1")}},
	})
	require.NoError(t, err)
	fx.waitForBatch(t, res.Batch.ID)

	items, err := fx.batches.ListItems(ctx, res.Batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = fx.svc.RetryBatchItem(ctx, fx.userID, res.Batch.ID, items[0].ID)
	require.Error(t, err)
	assert.Equal(t, common.CodeBadInput, common.CodeOf(err))
}

// flakyVision fails its first call with unusable output, then behaves.
type flakyVision struct {
	calls int
	good  string
}

func (f *flakyVision) InvokeImage(context.Context, string, []byte) (string, error) {
	f.calls++
	if f.calls == 1 {
		return "模型这次没有输出JSON", nil
	}
	return f.good, nil
}
func (f *flakyVision) Health(context.Context) bool { return true }

func TestRetryBatchItemAfterBatchCompletion(t *testing.T) {
	// Staged files must survive batch completion so a failed item can be
	// re-run later.
	clients := defaultClients()
	clients.Vision = &flakyVision{good: goodResponse}
	fx := newFixture(t, clients)
	ctx := context.Background()

	res, err := fx.svc.BatchUploadAndProcess(ctx, &BatchUploadRequest{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		Files:       []BatchFile{{Filename: "scan.png", Data: pngBytes(t)}},
	})
	require.NoError(t, err)

	counters := fx.waitForBatch(t, res.Batch.ID)
	assert.Equal(t, 0, counters.completed)
	assert.Equal(t, 1, counters.failed)

	items, err := fx.batches.ListItems(ctx, res.Batch.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, constants.JobStatusFailed, items[0].Status)
	assert.FileExists(t, items[0].TempPath)

	item, err := fx.svc.RetryBatchItem(ctx, fx.userID, res.Batch.ID, items[0].ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, gerr := fx.batches.GetItem(ctx, item.ID)
		return gerr == nil && got.Status == constants.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	batch, err := fx.batches.GetByID(ctx, fx.userID, res.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.CompletedFiles)
	assert.Equal(t, 0, batch.FailedFiles)
}

// failingBatches simulates the item listing going away mid-run.
type failingBatches struct {
	repository.BatchRepository
}

func (f *failingBatches) ListItems(context.Context, uuid.UUID) ([]*entity.BatchItem, error) {
	return nil, fmt.Errorf("db connection lost")
}

func TestRunBatchMarksBatchFailedOnOrchestratorError(t *testing.T) {
	fx := newFixture(t, defaultClients())
	ctx := context.Background()

	batch := &entity.BatchJob{
		UserID:      fx.userID,
		CheckupDate: checkupDate(),
		TotalFiles:  1,
		Status:      constants.BatchStatusPending,
	}
	require.NoError(t, fx.batches.CreateWithItems(ctx, batch, []*entity.BatchItem{
		{Position: 0, Filename: "a.pdf", Workflow: constants.WorkflowOCRLLM, Status: constants.JobStatusPending},
	}))

	broken := *fx.svc
	broken.batches = &failingBatches{BatchRepository: fx.batches}
	broken.runBatch(ctx, fx.userID, batch.ID)

	got, err := fx.batches.GetByID(ctx, fx.userID, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.BatchStatusFailed, got.Status)
}

func TestSweepStaleScratch(t *testing.T) {
	fx := newFixture(t, defaultClients())

	stale := filepath.Join(fx.svc.tempDir, "hf-batch-old")
	require.NoError(t, os.Mkdir(stale, 0o700))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	fresh := filepath.Join(fx.svc.tempDir, "hf-batch-new")
	require.NoError(t, os.Mkdir(fresh, 0o700))
	unrelated := filepath.Join(fx.svc.tempDir, "keep")
	require.NoError(t, os.Mkdir(unrelated, 0o700))

	assert.Equal(t, 1, fx.svc.SweepStaleScratch(24*time.Hour))
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, unrelated)
}
