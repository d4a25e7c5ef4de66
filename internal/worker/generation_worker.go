package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/pipeline"
	"github.com/assetgen/api/internal/service"
)

// RunStore persists run state on behalf of the worker
type RunStore interface {
	MarkRunning(ctx context.Context, runID string) (*model.GenerationRun, error)
	UpdateStage(ctx context.Context, runID string, state model.StageState) error
	UpdateProgress(ctx context.Context, runID, fileName string, percent int) error
	Complete(ctx context.Context, runID string, artifact *model.Artifact) error
	Fail(ctx context.Context, runID string, stage *model.Stage, code, errMsg string) error
}

// LayerLoader resolves a template key to its layer tree
type LayerLoader interface {
	LoadLayers(ctx context.Context, templateKey string) ([]model.LayerNode, error)
}

// Broadcaster fans run events out to websocket subscribers
type Broadcaster interface {
	BroadcastStage(runID string, state model.StageState)
	BroadcastProgress(runID, fileName string, percent int)
	BroadcastComplete(runID string, result *model.Artifact)
	BroadcastError(runID string, code, message string, stage model.Stage)
}

// FileReleaser frees staged smart-object files once a run no longer needs them
type FileReleaser interface {
	Release(files map[int]*model.LocalFile)
}

// GenerationWorker executes queued generation runs
type GenerationWorker struct {
	runs      RunStore
	templates LayerLoader
	pipeline  *pipeline.Pipeline
	hub       Broadcaster
	spool     FileReleaser
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(runs RunStore, templates LayerLoader, p *pipeline.Pipeline, hub Broadcaster, spool FileReleaser) *GenerationWorker {
	return &GenerationWorker{
		runs:      runs,
		templates: templates,
		pipeline:  p,
		hub:       hub,
		spool:     spool,
	}
}

// ProcessTask handles generation task processing
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerationTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	runID := payload.RunID
	log.Printf("Starting generation run: %s", runID)

	// Bookkeeping outlives the task context so a canceled run still records where it stopped.
	store := context.WithoutCancel(ctx)

	run, err := w.runs.MarkRunning(store, runID)
	if err != nil {
		if errors.Is(err, service.ErrRunFinished) {
			log.Printf("Generation run %s was canceled before it started", runID)
			return nil
		}
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	layers, err := w.templates.LoadLayers(ctx, run.Request.TemplateKey)
	if err != nil {
		w.failRun(store, runID, nil, "VALIDATION_ERROR", err.Error())
		return fmt.Errorf("failed to load template for run %s: %w", runID, err)
	}

	obs := newRunObserver(store, runID, w.runs, w.hub)
	r := w.pipeline.NewRun(pipeline.RunInput{
		RunID:       runID,
		TemplateKey: run.Request.TemplateKey,
		Layers:      layers,
		Edits:       run.Request.Edits,
	}, obs)

	artifact, err := r.Execute(ctx)
	if err != nil {
		var se *pipeline.StageError
		if !errors.As(err, &se) {
			w.failRun(store, runID, nil, "VALIDATION_ERROR", err.Error())
			return fmt.Errorf("generation run %s failed: %w", runID, err)
		}

		stage := se.Stage
		w.failRun(store, runID, &stage, se.Code(), se.Error())
		if errors.Is(err, pipeline.ErrCanceled) {
			log.Printf("Generation run %s canceled during %s", runID, stage.Label())
			return nil
		}
		return fmt.Errorf("generation run %s failed: %w", runID, err)
	}

	if err := w.runs.Complete(store, runID, artifact); err != nil {
		if errors.Is(err, service.ErrRunFinished) {
			log.Printf("Generation run %s finished after cancel; result discarded", runID)
			return nil
		}
		w.failRun(store, runID, nil, "SERVICE_ERROR", "Failed to save result")
		return err
	}

	w.hub.BroadcastComplete(runID, artifact)
	w.release(run)

	log.Printf("Generation run %s completed: %s", runID, artifact.ArtifactObjectKey)
	return nil
}

// failRun records and broadcasts the failure. A run already finished by a cancel
// has had its terminal event sent by the canceler.
// Staged files are kept so the run can be retried.
func (w *GenerationWorker) failRun(ctx context.Context, runID string, stage *model.Stage, code, errMsg string) {
	if err := w.runs.Fail(ctx, runID, stage, code, errMsg); err != nil {
		if errors.Is(err, service.ErrRunFinished) {
			return
		}
		log.Printf("Failed to mark run as failed: %v", err)
	}
	var s model.Stage
	if stage != nil {
		s = *stage
	}
	w.hub.BroadcastError(runID, code, errMsg, s)
}

func (w *GenerationWorker) release(run *model.GenerationRun) {
	if w.spool != nil && len(run.Request.Edits.SmartObjects) > 0 {
		w.spool.Release(run.Request.Edits.SmartObjects)
	}
}

// runObserver persists and broadcasts pipeline events for one run.
type runObserver struct {
	ctx   context.Context
	runID string
	runs  RunStore
	hub   Broadcaster

	// last persisted percent per file; progress is written in 10% steps
	persisted map[string]int
}

func newRunObserver(ctx context.Context, runID string, runs RunStore, hub Broadcaster) *runObserver {
	return &runObserver{
		ctx:       ctx,
		runID:     runID,
		runs:      runs,
		hub:       hub,
		persisted: make(map[string]int),
	}
}

func (o *runObserver) StageChanged(runID string, state model.StageState) {
	if err := o.runs.UpdateStage(o.ctx, runID, state); err != nil {
		log.Printf("Failed to update stage %s for run %s: %v", state.Stage, runID, err)
	}
	o.hub.BroadcastStage(runID, state)
}

func (o *runObserver) UploadProgress(runID, fileName string, percent int) {
	o.hub.BroadcastProgress(runID, fileName, percent)

	last, seen := o.persisted[fileName]
	if seen && percent < 100 && percent-last < 10 {
		return
	}
	o.persisted[fileName] = percent
	if err := o.runs.UpdateProgress(o.ctx, runID, fileName, percent); err != nil {
		log.Printf("Failed to update progress for run %s: %v", runID, err)
	}
}
