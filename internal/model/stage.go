package model

import "time"

// Stage names a step of a generation run.
type Stage string

const (
	StageUploadingSmartObjects Stage = "uploading_smart_objects"
	StageResolvingInputURLs    Stage = "resolving_input_urls"
	StageResolvingOutputURL    Stage = "resolving_output_url"
	StageAuthenticating        Stage = "authenticating"
	StageSubmittingJob         Stage = "submitting_job"
	StagePolling               Stage = "polling"
	StageComplete              Stage = "complete"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageUploadingSmartObjects,
	StageResolvingInputURLs,
	StageResolvingOutputURL,
	StageAuthenticating,
	StageSubmittingJob,
	StagePolling,
	StageComplete,
}

var stageLabels = map[Stage]string{
	StageUploadingSmartObjects: "Uploading smart objects",
	StageResolvingInputURLs:    "Resolving input URLs",
	StageResolvingOutputURL:    "Resolving output URL",
	StageAuthenticating:        "Authenticating",
	StageSubmittingJob:         "Submitting job",
	StagePolling:               "Waiting for render",
	StageComplete:              "Complete",
}

// Label is the display name of the stage.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// Index returns the position of the stage, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusDone    StageStatus = "done"
	StageStatusError   StageStatus = "error"
)

// StageState is the status of one stage within a run.
type StageState struct {
	Stage      Stage       `json:"stage"`
	Label      string      `json:"label"`
	Status     StageStatus `json:"status"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// NewStageStates returns a fresh all-pending stage list.
func NewStageStates() []StageState {
	states := make([]StageState, len(Stages))
	for i, s := range Stages {
		states[i] = StageState{Stage: s, Label: s.Label(), Status: StageStatusPending}
	}
	return states
}
