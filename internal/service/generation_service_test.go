package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/pipeline"
)

// setupGenerationService connects to the local Redis used by the e2e suite.
func setupGenerationService(t *testing.T) *GenerationService {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(testContext(t), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		t.Skipf("redis not available: %v", err)
	}

	opt := asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15}
	asynqClient := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		inspector.Close()
		asynqClient.Close()
		redisClient.Close()
	})

	return NewGenerationService(redisClient, asynqClient, inspector, nil)
}

func cardRequest() *model.GenerationRequest {
	return &model.GenerationRequest{
		TemplateKey: "card/card.psd",
		Edits: model.EditSet{
			Visibility: map[int]bool{3: false},
			Text:       map[int]string{2: "New Title"},
		},
	}
}

func TestGenerationService_StartAndStatus(t *testing.T) {
	svc := setupGenerationService(t)

	started, err := svc.Start(testContext(t), "user-1", cardRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, model.JobStatusQueued, started.Status)

	status, err := svc.GetStatus(testContext(t), "user-1", started.RunID)
	require.NoError(t, err)
	assert.Equal(t, "card/card.psd", status.TemplateKey)
	assert.Equal(t, model.StageUploadingSmartObjects, status.CurrentStage)
	require.Len(t, status.Stages, len(model.Stages))
	for _, st := range status.Stages {
		assert.Equal(t, model.StageStatusPending, st.Status)
	}

	_, err = svc.GetStatus(testContext(t), "someone-else", started.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.GetResult(testContext(t), "user-1", started.RunID)
	assert.ErrorIs(t, err, ErrRunNotCompleted)

	_, err = svc.GetStatus(testContext(t), "user-1", "does-not-exist")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestGenerationService_WorkerLifecycle(t *testing.T) {
	svc := setupGenerationService(t)
	ctx := testContext(t)

	started, err := svc.Start(ctx, "user-1", cardRequest())
	require.NoError(t, err)
	runID := started.RunID

	run, err := svc.MarkRunning(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, run.Status)
	assert.NotNil(t, run.StartedAt)

	now := time.Now()
	require.NoError(t, svc.UpdateStage(ctx, runID, model.StageState{
		Stage: model.StageUploadingSmartObjects, Label: "Uploading smart objects",
		Status: model.StageStatusDone, StartedAt: &now, FinishedAt: &now,
	}))
	require.NoError(t, svc.UpdateProgress(ctx, runID, "3_photo.png", 40))
	require.NoError(t, svc.UpdateProgress(ctx, runID, "3_photo.png", 100))
	require.NoError(t, svc.UpdateProgress(ctx, runID, "3_photo.png", 99))

	artifact := &model.Artifact{ArtifactURL: "https://signed/out.jpg", ArtifactObjectKey: "card/output/output_01:02:25_10:00.jpg"}
	require.NoError(t, svc.Complete(ctx, runID, artifact))

	status, err := svc.GetStatus(ctx, "user-1", runID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, status.Status)
	assert.Equal(t, model.StageStatusDone, status.Stages[0].Status)
	assert.Equal(t, 100, status.Progress["3_photo.png"])
	assert.NotNil(t, status.CompletedAt)

	result, err := svc.GetResult(ctx, "user-1", runID)
	require.NoError(t, err)
	assert.Equal(t, artifact, result)

	_, err = svc.Cancel(ctx, "user-1", runID)
	assert.ErrorIs(t, err, ErrRunFinished)
	_, err = svc.Retry(ctx, "user-1", runID)
	assert.ErrorIs(t, err, ErrRunNotRetryable)
}

func TestGenerationService_CancelStopsWorkerUpdates(t *testing.T) {
	svc := setupGenerationService(t)
	ctx := testContext(t)

	started, err := svc.Start(ctx, "user-1", cardRequest())
	require.NoError(t, err)

	canceled, err := svc.Cancel(ctx, "user-1", started.RunID)
	require.NoError(t, err)
	assert.True(t, canceled.Success)
	assert.Equal(t, model.JobStatusCanceled, canceled.Status)

	_, err = svc.MarkRunning(ctx, started.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)
	assert.ErrorIs(t, svc.Complete(ctx, started.RunID, &model.Artifact{}), ErrRunFinished)

	stage := model.StagePolling
	assert.ErrorIs(t, svc.Fail(ctx, started.RunID, &stage, "POLL_TIMEOUT", "late failure"), ErrRunFinished)

	status, err := svc.GetStatus(ctx, "user-1", started.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, status.Status)
	assert.Nil(t, status.Error)
	assert.Equal(t, CodeCanceled, status.ErrorCode)
	assert.Nil(t, status.FailedStage, "a queued run has no stage in progress")
}

func TestGenerationService_CancelRunningRecordsStage(t *testing.T) {
	svc := setupGenerationService(t)
	ctx := testContext(t)

	started, err := svc.Start(ctx, "user-1", cardRequest())
	require.NoError(t, err)
	_, err = svc.MarkRunning(ctx, started.RunID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "user-1", started.RunID)
	require.NoError(t, err)

	run, err := svc.GetRun(ctx, "user-1", started.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, run.Status)
	assert.Equal(t, CodeCanceled, run.ErrorCode)
	require.NotNil(t, run.FailedStage)
	assert.Equal(t, run.CurrentStage(), *run.FailedStage)
}

func TestGenerationService_Retry(t *testing.T) {
	svc := setupGenerationService(t)
	ctx := testContext(t)

	photo := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(photo, []byte("png"), 0o600))
	req := cardRequest()
	req.Edits.SmartObjects = map[int]*model.LocalFile{3: {Path: photo, Name: "photo.png", Size: 3}}

	started, err := svc.Start(ctx, "user-1", req)
	require.NoError(t, err)

	_, err = svc.Retry(ctx, "user-1", started.RunID)
	assert.ErrorIs(t, err, ErrRunNotRetryable)

	_, err = svc.MarkRunning(ctx, started.RunID)
	require.NoError(t, err)
	stage := model.StageAuthenticating
	require.NoError(t, svc.Fail(ctx, started.RunID, &stage, "AUTH_ERROR", "Authenticating failed: invalid_client"))

	failed, err := svc.GetStatus(ctx, "user-1", started.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	assert.Equal(t, "AUTH_ERROR", failed.ErrorCode)
	require.NotNil(t, failed.FailedStage)
	assert.Equal(t, model.StageAuthenticating, *failed.FailedStage)

	retried, err := svc.Retry(ctx, "user-1", started.RunID)
	require.NoError(t, err)
	assert.NotEqual(t, started.RunID, retried.RunID)
	assert.Equal(t, started.RunID, retried.RetryOf)

	run, err := svc.GetRun(ctx, "user-1", retried.RunID)
	require.NoError(t, err)
	assert.Equal(t, req.Edits, run.Request.Edits)
	assert.Equal(t, model.StageUploadingSmartObjects, run.CurrentStage())

	// staged files removed by the spool janitor cannot be retried
	require.NoError(t, os.Remove(photo))
	stage = model.StagePolling
	_, err = svc.MarkRunning(ctx, retried.RunID)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, retried.RunID, &stage, "POLL_TIMEOUT", "Waiting for render failed"))
	_, err = svc.Retry(ctx, "user-1", retried.RunID)
	assert.ErrorIs(t, err, pipeline.ErrValidation)
}
