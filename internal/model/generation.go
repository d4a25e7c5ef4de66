package model

import "time"

// GenerationRequest is the frozen input of a run.
type GenerationRequest struct {
	TemplateKey string  `json:"templateKey" validate:"required,min=1,max=1024"`
	Edits       EditSet `json:"edits"`
}

// Artifact is the result of a successful run.
type Artifact struct {
	ArtifactURL       string `json:"artifactUrl"`
	ArtifactObjectKey string `json:"artifactObjectKey"`
}

// GenerationRun is the stored record of one run.
type GenerationRun struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId,omitempty"`
	Status      JobStatus         `json:"status"`
	Request     GenerationRequest `json:"request"`
	Stages      []StageState      `json:"stages"`
	Progress    map[string]int    `json:"progress,omitempty"`
	Result      *Artifact         `json:"result,omitempty"`
	Error       *string           `json:"error,omitempty"`
	ErrorCode   string            `json:"errorCode,omitempty"`
	FailedStage *Stage            `json:"failedStage,omitempty"`
	RetryOf     string            `json:"retryOf,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// CurrentStage returns the first stage that is not done, or "" when all are.
func (r *GenerationRun) CurrentStage() Stage {
	for _, s := range r.Stages {
		if s.Status != StageStatusDone {
			return s.Stage
		}
	}
	return ""
}

// GenerationTaskPayload is the asynq task body.
type GenerationTaskPayload struct {
	RunID string `json:"runId"`
}

type GenerationStartResponse struct {
	RunID     string    `json:"runId"`
	Status    JobStatus `json:"status"`
	RetryOf   string    `json:"retryOf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type GenerationStatusResponse struct {
	RunID        string         `json:"runId"`
	TemplateKey  string         `json:"templateKey"`
	Status       JobStatus      `json:"status"`
	CurrentStage Stage          `json:"currentStage,omitempty"`
	Stages       []StageState   `json:"stages"`
	Progress     map[string]int `json:"progress,omitempty"`
	Result       *Artifact      `json:"result,omitempty"`
	Error        *string        `json:"error,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	FailedStage  *Stage         `json:"failedStage,omitempty"`
	RetryOf      string         `json:"retryOf,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

type GenerationCancelResponse struct {
	Success     bool      `json:"success"`
	RunID       string    `json:"runId"`
	Status      JobStatus `json:"status"`
	FailedStage *Stage    `json:"failedStage,omitempty"`
}
