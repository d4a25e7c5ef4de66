package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/pipeline"
)

const (
	TaskTypeGeneration   = "generation:process"
	TaskTypeSpoolCleanup = "spool:cleanup"

	QueueGeneration  = "generation"
	QueueMaintenance = "maintenance"

	runTTL            = 24 * time.Hour
	maxUpdateAttempts = 10

	// CodeCanceled is the error code reported for canceled runs
	CodeCanceled = "CANCELED"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrRunNotCompleted = errors.New("run not completed")
	ErrRunFinished     = errors.New("run already finished")
	ErrRunNotRetryable = errors.New("only failed or canceled runs can be retried")
)

// GenerationService manages generation runs: records in Redis, execution through asynq
type GenerationService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	templates   *TemplateService
}

// NewGenerationService creates the service. inspector and templates may be nil;
// without an inspector a canceled run is only stopped when the worker next checks it.
func NewGenerationService(redisClient *redis.Client, asynqClient *asynq.Client, inspector *asynq.Inspector, templates *TemplateService) *GenerationService {
	return &GenerationService{
		redis:       redisClient,
		asynqClient: asynqClient,
		inspector:   inspector,
		templates:   templates,
	}
}

// Start records a new run and queues it
func (s *GenerationService) Start(ctx context.Context, userID string, req *model.GenerationRequest) (*model.GenerationStartResponse, error) {
	if s.templates != nil {
		layers, err := s.templates.LoadLayers(ctx, req.TemplateKey)
		if err != nil {
			return nil, err
		}
		if err := ValidateEdits(layers, req.Edits); err != nil {
			return nil, err
		}
	}

	run, err := s.createRun(ctx, userID, req, "")
	if err != nil {
		return nil, err
	}

	return &model.GenerationStartResponse{
		RunID:     run.ID,
		Status:    run.Status,
		CreatedAt: run.CreatedAt,
	}, nil
}

// Retry starts a new run from the inputs of a failed or canceled one, at stage 1
func (s *GenerationService) Retry(ctx context.Context, userID, runID string) (*model.GenerationStartResponse, error) {
	prev, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if prev.Status != model.JobStatusFailed && prev.Status != model.JobStatusCanceled {
		return nil, ErrRunNotRetryable
	}

	for id, f := range prev.Request.Edits.SmartObjects {
		if f == nil {
			continue
		}
		if _, err := os.Stat(f.Path); err != nil {
			return nil, fmt.Errorf("%w: staged file for layer %d is no longer available", pipeline.ErrValidation, id)
		}
	}

	run, err := s.createRun(ctx, userID, &prev.Request, prev.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("[Generations] run %s retries %s", run.ID, prev.ID)

	return &model.GenerationStartResponse{
		RunID:     run.ID,
		Status:    run.Status,
		RetryOf:   run.RetryOf,
		CreatedAt: run.CreatedAt,
	}, nil
}

func (s *GenerationService) createRun(ctx context.Context, userID string, req *model.GenerationRequest, retryOf string) (*model.GenerationRun, error) {
	run := &model.GenerationRun{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    model.JobStatusQueued,
		Request:   *req,
		Stages:    model.NewStageStates(),
		RetryOf:   retryOf,
		CreatedAt: time.Now(),
	}

	if err := s.saveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	task, err := newGenerationTask(run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// Retries are explicit: a failed run stays failed until the user asks again.
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(QueueGeneration),
		asynq.TaskID(run.ID),
		asynq.MaxRetry(0),
		asynq.Retention(runTTL),
	)
	if err != nil {
		msg := "failed to queue run"
		_, _ = s.updateRun(ctx, run.ID, func(r *model.GenerationRun) error {
			finishRun(r, model.JobStatusFailed, &msg)
			return nil
		})
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return run, nil
}

// GetRun returns the run record. A run owned by another user is reported as not found.
func (s *GenerationService) GetRun(ctx context.Context, userID, runID string) (*model.GenerationRun, error) {
	run, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if userID != "" && run.UserID != "" && run.UserID != userID {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// GetStatus returns the current status of a run
func (s *GenerationService) GetStatus(ctx context.Context, userID, runID string) (*model.GenerationStatusResponse, error) {
	run, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	return &model.GenerationStatusResponse{
		RunID:        run.ID,
		TemplateKey:  run.Request.TemplateKey,
		Status:       run.Status,
		CurrentStage: run.CurrentStage(),
		Stages:       run.Stages,
		Progress:     run.Progress,
		Result:       run.Result,
		Error:        run.Error,
		ErrorCode:    run.ErrorCode,
		FailedStage:  run.FailedStage,
		RetryOf:      run.RetryOf,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}, nil
}

// GetResult returns the artifact of a succeeded run
func (s *GenerationService) GetResult(ctx context.Context, userID, runID string) (*model.Artifact, error) {
	run, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.JobStatusSucceeded || run.Result == nil {
		return nil, ErrRunNotCompleted
	}
	return run.Result, nil
}

// Cancel marks a queued or running run canceled and stops its task
func (s *GenerationService) Cancel(ctx context.Context, userID, runID string) (*model.GenerationCancelResponse, error) {
	if _, err := s.GetRun(ctx, userID, runID); err != nil {
		return nil, err
	}

	run, err := s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		if r.Status.IsTerminal() {
			return ErrRunFinished
		}
		if stage := r.CurrentStage(); stage != "" && r.Status == model.JobStatusRunning {
			r.FailedStage = &stage
		}
		r.ErrorCode = CodeCanceled
		finishRun(r, model.JobStatusCanceled, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stopTask(runID)

	return &model.GenerationCancelResponse{
		Success:     true,
		RunID:       run.ID,
		Status:      run.Status,
		FailedStage: run.FailedStage,
	}, nil
}

// stopTask removes a pending task or signals an active one. Failures are logged;
// the worker also checks the run record before it starts.
func (s *GenerationService) stopTask(runID string) {
	if s.inspector == nil {
		return
	}

	info, err := s.inspector.GetTaskInfo(QueueGeneration, runID)
	if err != nil {
		log.Printf("[Generations] task %s not found in queue: %v", runID, err)
		return
	}

	switch info.State {
	case asynq.TaskStateActive:
		err = s.inspector.CancelProcessing(runID)
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		err = s.inspector.DeleteTask(QueueGeneration, runID)
	default:
		return
	}
	if err != nil {
		log.Printf("[Generations] failed to stop task %s (%s): %v", runID, info.State, err)
	}
}

// MarkRunning moves a queued run to running (called by worker).
// It returns ErrRunFinished if the run was canceled while queued.
func (s *GenerationService) MarkRunning(ctx context.Context, runID string) (*model.GenerationRun, error) {
	return s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		if r.Status.IsTerminal() {
			return ErrRunFinished
		}
		if r.Status == model.JobStatusQueued {
			now := time.Now()
			r.Status = model.JobStatusRunning
			r.StartedAt = &now
		}
		return nil
	})
}

// UpdateStage records a stage transition (called by worker)
func (s *GenerationService) UpdateStage(ctx context.Context, runID string, state model.StageState) error {
	_, err := s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		idx := state.Stage.Index()
		if idx < 0 || idx >= len(r.Stages) {
			return fmt.Errorf("unknown stage %q", state.Stage)
		}
		r.Stages[idx] = state
		return nil
	})
	return err
}

// UpdateProgress records upload progress of one file (called by worker)
func (s *GenerationService) UpdateProgress(ctx context.Context, runID, fileName string, percent int) error {
	_, err := s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		if r.Progress == nil {
			r.Progress = make(map[string]int)
		}
		if percent > r.Progress[fileName] {
			r.Progress[fileName] = percent
		}
		return nil
	})
	return err
}

// Complete marks a run succeeded (called by worker)
func (s *GenerationService) Complete(ctx context.Context, runID string, artifact *model.Artifact) error {
	_, err := s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		if r.Status.IsTerminal() {
			return ErrRunFinished
		}
		r.Result = artifact
		finishRun(r, model.JobStatusSucceeded, nil)
		return nil
	})
	return err
}

// Fail marks a run failed at stage (called by worker). A canceled run keeps its status.
func (s *GenerationService) Fail(ctx context.Context, runID string, stage *model.Stage, code, errMsg string) error {
	_, err := s.updateRun(ctx, runID, func(r *model.GenerationRun) error {
		if r.Status.IsTerminal() {
			return ErrRunFinished
		}
		r.FailedStage = stage
		r.ErrorCode = code
		finishRun(r, model.JobStatusFailed, &errMsg)
		return nil
	})
	return err
}

func finishRun(r *model.GenerationRun, status model.JobStatus, errMsg *string) {
	now := time.Now()
	r.Status = status
	r.Error = errMsg
	r.CompletedAt = &now
}

// Helper methods

func runKey(runID string) string {
	return fmt.Sprintf("generation:%s", runID)
}

func (s *GenerationService) saveRun(ctx context.Context, run *model.GenerationRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, runKey(run.ID), data, runTTL).Err()
}

func (s *GenerationService) getRun(ctx context.Context, runID string) (*model.GenerationRun, error) {
	data, err := s.redis.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var run model.GenerationRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// updateRun applies fn to the stored run under optimistic locking, so a cancel
// from the API and stage updates from the worker never overwrite each other.
func (s *GenerationService) updateRun(ctx context.Context, runID string, fn func(r *model.GenerationRun) error) (*model.GenerationRun, error) {
	key := runKey(runID)
	var updated *model.GenerationRun

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRunNotFound
			}
			return err
		}

		var run model.GenerationRun
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("failed to unmarshal run: %w", err)
		}
		if err := fn(&run); err != nil {
			return err
		}

		out, err := json.Marshal(&run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, runTTL)
			return nil
		})
		if err == nil {
			updated = &run
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("failed to update run %s: too many concurrent updates", runID)
}

func newGenerationTask(runID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.GenerationTaskPayload{RunID: runID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, data), nil
}
