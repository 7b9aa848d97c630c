package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuancheng-ma/healthfolio/constants"
	"github.com/yuancheng-ma/healthfolio/internal/common"
	"github.com/yuancheng-ma/healthfolio/internal/entity"
	"github.com/yuancheng-ma/healthfolio/internal/repository"
	"github.com/yuancheng-ma/healthfolio/internal/testutil"
)

func TestJobLifecycle(t *testing.T) {
	db := testutil.OpenDB(t)
	reports := repository.NewReportRepository(db, nil)
	jobs := repository.NewProcessingJobRepository(db, nil)
	ctx := context.Background()

	rep, err := reports.Create(ctx, &repository.CreateReportRequest{
		UserID:      uuid.New(),
		CheckupDate: time.Now(),
	})
	require.NoError(t, err)

	job, err := jobs.Start(ctx, rep.ID, constants.WorkflowOCRLLM)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, job.Status)
	assert.NotNil(t, job.StartedAt)

	require.NoError(t, jobs.SetStage(ctx, job.ID, constants.JobStatusOCRProcessing, 20))
	require.NoError(t, jobs.SetOCRText(ctx, job.ID, "血红蛋白 150g/L"))
	require.NoError(t, jobs.SetProgress(ctx, job.ID, 40))

	got, err := jobs.GetByReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusOCRProcessing, got.Status)
	assert.Equal(t, 40, got.Progress)

	require.NoError(t, jobs.FinishSuccess(ctx, job.ID, 1500*time.Millisecond))
	got, err = jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.DurationMS)
	assert.Equal(t, int64(1500), *got.DurationMS)
	require.NotNil(t, got.FinishedAt)
}

func TestSetStageClearsErrorMessage(t *testing.T) {
	db := testutil.OpenDB(t)
	reports := repository.NewReportRepository(db, nil)
	jobs := repository.NewProcessingJobRepository(db, nil)
	ctx := context.Background()

	rep, err := reports.Create(ctx, &repository.CreateReportRequest{UserID: uuid.New(), CheckupDate: time.Now()})
	require.NoError(t, err)
	job, err := jobs.Start(ctx, rep.ID, constants.WorkflowOCRLLM)
	require.NoError(t, err)

	require.NoError(t, jobs.FinishFailure(ctx, job.ID, "OCR_HTTP: boom", time.Second))
	require.NoError(t, jobs.SetStage(ctx, job.ID, constants.JobStatusUploading, 10))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, constants.JobStatusUploading, got.Status)
}

func TestBatchRecomputeCounters(t *testing.T) {
	db := testutil.OpenDB(t)
	batches := repository.NewBatchRepository(db, nil)
	ctx := context.Background()
	userID := uuid.New()

	batch := &entity.BatchJob{
		UserID:      userID,
		CheckupDate: time.Now(),
		TotalFiles:  3,
		Status:      constants.BatchStatusPending,
	}
	items := []*entity.BatchItem{
		{Position: 0, Filename: "a.pdf", Workflow: constants.WorkflowOCRLLM, Status: constants.JobStatusPending},
		{Position: 1, Filename: "b.pdf", Workflow: constants.WorkflowOCRLLM, Status: constants.JobStatusPending},
		{Position: 2, Filename: "c.jpg", Workflow: constants.WorkflowVLModel, Status: constants.JobStatusPending},
	}
	require.NoError(t, batches.CreateWithItems(ctx, batch, items))

	require.NoError(t, batches.SetItemState(ctx, items[0].ID, constants.JobStatusCompleted, ""))
	got, err := batches.RecomputeCounters(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedFiles)
	assert.Equal(t, 0, got.FailedFiles)
	assert.Equal(t, constants.BatchStatusProcessing, got.Status)

	require.NoError(t, batches.SetItemState(ctx, items[1].ID, constants.JobStatusFailed, "OCR_EMPTY: no text"))
	require.NoError(t, batches.SetItemState(ctx, items[2].ID, constants.JobStatusCompleted, ""))
	got, err = batches.RecomputeCounters(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CompletedFiles)
	assert.Equal(t, 1, got.FailedFiles)
	assert.Equal(t, constants.BatchStatusCompleted, got.Status)
	assert.True(t, got.CompletedFiles+got.FailedFiles <= got.TotalFiles)
}

func TestBatchOwnershipScope(t *testing.T) {
	db := testutil.OpenDB(t)
	batches := repository.NewBatchRepository(db, nil)
	ctx := context.Background()

	batch := &entity.BatchJob{UserID: uuid.New(), CheckupDate: time.Now(), TotalFiles: 0, Status: constants.BatchStatusPending}
	require.NoError(t, batches.CreateWithItems(ctx, batch, nil))

	_, err := batches.GetByID(ctx, uuid.New(), batch.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestReportDeleteCascades(t *testing.T) {
	db := testutil.OpenDB(t)
	reports := repository.NewReportRepository(db, nil)
	indicators := repository.NewIndicatorRepository(db, nil)
	ctx := context.Background()
	userID := uuid.New()

	rep, err := reports.Create(ctx, &repository.CreateReportRequest{UserID: userID, CheckupDate: time.Now()})
	require.NoError(t, err)
	require.NoError(t, indicators.CreateBatch(ctx, []*entity.Indicator{
		{ReportID: rep.ID, Name: "血糖", Value: "5.6", Category: constants.Biochemistry, Status: constants.StatusNormal},
	}))

	require.NoError(t, reports.Delete(ctx, userID, rep.ID))
	_, err = reports.GetByID(ctx, userID, rep.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
