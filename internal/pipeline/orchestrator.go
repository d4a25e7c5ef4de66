package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/config"
	"github.com/assetgen/api/internal/model"
)

// Observer receives run events. Calls are made from the run's goroutine, or
// from an upload transport goroutine for progress, never concurrently for one run.
type Observer interface {
	StageChanged(runID string, state model.StageState)
	UploadProgress(runID, fileName string, percent int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) StageChanged(string, model.StageState) {}
func (NopObserver) UploadProgress(string, string, int) {}

// Pipeline holds the collaborators shared by all runs. It carries no per-run state.
type Pipeline struct {
	signer   client.URLSigner
	render   client.RenderAPI
	uploader *Uploader
	poller   *Poller
	readTTL  time.Duration
	writeTTL time.Duration
	clock    func() time.Time
}

// New creates a pipeline over a signed URL gateway and a render API.
func New(signer client.URLSigner, render client.RenderAPI, httpClient *http.Client, cfg *config.PipelineConfig) *Pipeline {
	return &Pipeline{
		signer:   signer,
		render:   render,
		uploader: NewUploader(signer, httpClient, cfg.WriteURLTTL),
		poller:   NewPoller(render, cfg.PollInterval, cfg.MaxPollDuration),
		readTTL:  cfg.ReadURLTTL,
		writeTTL: cfg.WriteURLTTL,
		clock:    time.Now,
	}
}

// WithClock replaces the wall clock used for destination keys and stage timestamps.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// RunInput is the frozen input of one generation.
type RunInput struct {
	RunID       string
	TemplateKey string
	Layers      []model.LayerNode
	Edits       model.EditSet
}

// Run is one execution of the pipeline. All mutable state of a generation lives here.
type Run struct {
	p   *Pipeline
	in  RunInput
	obs Observer

	mu       sync.Mutex
	stages   []model.StageState
	progress map[string]int
	jobURL   string
	artifact *model.Artifact

	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// NewRun prepares a run with every stage pending.
func (p *Pipeline) NewRun(in RunInput, obs Observer) *Run {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Run{
		p:        p,
		in:       in,
		obs:      obs,
		stages:   model.NewStageStates(),
		progress: make(map[string]int),
		cancelCh: make(chan struct{}),
	}
}

// Cancel stops the run. Polling stops immediately; an in-flight one-shot call
// or upload finishes but its result is discarded.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() { close(r.cancelCh) })
}

// Stages returns a snapshot of the stage list.
func (r *Run) Stages() []model.StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.StageState, len(r.stages))
	copy(out, r.stages)
	return out
}

// Progress returns a snapshot of per-file upload progress.
func (r *Run) Progress() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.progress))
	for k, v := range r.progress {
		out[k] = v
	}
	return out
}

// Artifact is the run's result once complete.
func (r *Run) Artifact() *model.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

// JobURL is the render job handle once submitted.
func (r *Run) JobURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobURL
}

// Execute runs the seven stages in order. A failing stage is marked error,
// later stages stay pending, and a *StageError is returned.
func (r *Run) Execute(ctx context.Context) (*model.Artifact, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// One-shot calls and uploads run to completion even when the run is canceled.
	detached := context.WithoutCancel(ctx)

	if len(r.in.Layers) == 0 {
		return nil, fmt.Errorf("%w: template has no layers", ErrValidation)
	}

	log.Printf("[Pipeline %s] starting: template=%s changed_layers=%d uploads=%d",
		r.in.RunID, r.in.TemplateKey,
		ChangedLayers(r.in.Layers, r.in.Edits, model.OriginalsFromLayers(r.in.Layers)),
		len(r.smartObjectIDs()))

	var (
		uploadedKeys map[int]string
		templateURL  string
		smartURLs    map[int]string
		outputKey    string
		outputURL    string
		token        string
		artifactURL  string
	)

	if err := r.runStage(ctx, model.StageUploadingSmartObjects, func() error {
		var err error
		uploadedKeys, err = r.uploadSmartObjects(ctx, detached)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, model.StageResolvingInputURLs, func() error {
		var err error
		templateURL, smartURLs, err = r.resolveInputURLs(detached, uploadedKeys)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, model.StageResolvingOutputURL, func() error {
		outputKey = OutputKey(r.in.TemplateKey, r.p.clock())
		var err error
		outputURL, err = r.signWrite(detached, outputKey)
		return err
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, model.StageAuthenticating, func() error {
		var err error
		token, err = r.p.render.Authenticate(detached)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, model.StageSubmittingJob, func() error {
		layers := BuildLayerEdits(r.in.Layers, r.in.Edits, model.OriginalsFromLayers(r.in.Layers), smartURLs)
		doc := model.NewRenderJobDocument(templateURL, outputURL, layers)
		jobURL, err := r.p.render.Submit(detached, token, &doc)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSubmit, err)
		}
		r.mu.Lock()
		r.jobURL = jobURL
		r.mu.Unlock()
		return nil
	}); err != nil {
		return nil, err
	}

	if err := r.runStage(ctx, model.StagePolling, func() error {
		_, err := r.p.poller.Poll(ctx, token, r.JobURL(), func(status model.RenderStatus, attempt int) {
			log.Printf("[Pipeline %s] poll #%d: %s", r.in.RunID, attempt, status)
		})
		if err != nil {
			return err
		}
		artifactURL, err = r.signRead(detached, outputKey)
		return err
	}); err != nil {
		return nil, err
	}

	var artifact *model.Artifact
	if err := r.runStage(ctx, model.StageComplete, func() error {
		artifact = &model.Artifact{ArtifactURL: artifactURL, ArtifactObjectKey: outputKey}
		r.mu.Lock()
		r.artifact = artifact
		r.mu.Unlock()
		return nil
	}); err != nil {
		return nil, err
	}

	log.Printf("[Pipeline %s] complete: %s", r.in.RunID, outputKey)
	return artifact, nil
}

// runStage moves stage through running to done or error. A canceled run never
// enters the next stage; a stage that finishes after cancellation is marked error.
func (r *Run) runStage(ctx context.Context, stage model.Stage, fn func() error) error {
	if r.canceled(ctx) {
		return &StageError{Stage: stage, Kind: ErrCanceled, Err: ErrCanceled}
	}

	r.setStage(stage, model.StageStatusRunning, "")

	err := fn()
	if err == nil && r.canceled(ctx) {
		err = ErrCanceled
	}
	if err != nil {
		if r.canceled(ctx) && !errors.Is(err, ErrCanceled) {
			err = fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		se := &StageError{Stage: stage, Kind: KindOf(err), Err: err}
		r.setStage(stage, model.StageStatusError, se.Error())
		log.Printf("[Pipeline %s] %v", r.in.RunID, se)
		return se
	}

	r.setStage(stage, model.StageStatusDone, "")
	return nil
}

func (r *Run) canceled(ctx context.Context) bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (r *Run) setStage(stage model.Stage, status model.StageStatus, msg string) {
	now := r.p.clock()

	r.mu.Lock()
	idx := stage.Index()
	st := &r.stages[idx]
	st.Status = status
	switch status {
	case model.StageStatusRunning:
		st.StartedAt = &now
	case model.StageStatusDone, model.StageStatusError:
		st.FinishedAt = &now
		st.Error = msg
	}
	snapshot := *st
	r.mu.Unlock()

	r.obs.StageChanged(r.in.RunID, snapshot)
}

func (r *Run) reportProgress(key string, percent int) {
	r.mu.Lock()
	r.progress[key] = percent
	r.mu.Unlock()
	r.obs.UploadProgress(r.in.RunID, key, percent)
}

// smartObjectIDs returns the layers with a replacement file, ascending.
func (r *Run) smartObjectIDs() []int {
	ids := make([]int, 0, len(r.in.Edits.SmartObjects))
	for id, f := range r.in.Edits.SmartObjects {
		if f != nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// uploadSmartObjects uploads one file at a time so progress for file i settles
// before file i+1 starts.
func (r *Run) uploadSmartObjects(ctx, detached context.Context) (map[int]string, error) {
	keys := make(map[int]string)
	for _, id := range r.smartObjectIDs() {
		if r.canceled(ctx) {
			return nil, ErrCanceled
		}
		file := r.in.Edits.SmartObjects[id]
		key := SmartObjectKey(r.in.TemplateKey, r.in.RunID, id, DisplayName(file))
		progressKey := ProgressKey(id, file)
		report := func(_ string, percent int) { r.reportProgress(progressKey, percent) }
		if err := r.p.uploader.Upload(detached, file, key, report); err != nil {
			return nil, err
		}
		keys[id] = key
	}
	return keys, nil
}

// resolveInputURLs signs the template and every uploaded asset concurrently.
func (r *Run) resolveInputURLs(ctx context.Context, uploadedKeys map[int]string) (string, map[int]string, error) {
	g, gctx := errgroup.WithContext(ctx)

	var templateURL string
	g.Go(func() error {
		u, err := r.signRead(gctx, r.in.TemplateKey)
		templateURL = u
		return err
	})

	var mu sync.Mutex
	urls := make(map[int]string, len(uploadedKeys))
	for id, key := range uploadedKeys {
		id, key := id, key
		g.Go(func() error {
			u, err := r.signRead(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			urls[id] = u
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return "", nil, err
	}
	return templateURL, urls, nil
}

func (r *Run) signRead(ctx context.Context, key string) (string, error) {
	resp, err := r.p.signer.SignURL(ctx, &model.SignedURLRequest{
		Filename:     key,
		ClientMethod: model.ClientMethodGet,
		ExpiresIn:    int(r.p.readTTL.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPresign, key, err)
	}
	if resp == nil || resp.URL == "" {
		return "", fmt.Errorf("%w: no URL returned for %s", ErrPresign, key)
	}
	return resp.URL, nil
}

// signWrite returns a URL the render API can PUT to directly, unwrapping the relay shape.
func (r *Run) signWrite(ctx context.Context, key string) (string, error) {
	resp, err := r.p.signer.SignURL(ctx, &model.SignedURLRequest{
		Filename:     key,
		ClientMethod: model.ClientMethodPut,
		ExpiresIn:    int(r.p.writeTTL.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPresign, key, err)
	}
	switch {
	case resp == nil:
	case resp.URL != "":
		return resp.URL, nil
	case resp.PresignedURL != "":
		return resp.PresignedURL, nil
	}
	return "", fmt.Errorf("%w: no URL returned for %s", ErrPresign, key)
}
