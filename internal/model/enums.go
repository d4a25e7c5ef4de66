package model

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Layer types as emitted by the PSD extraction tool
type LayerType string

const (
	LayerTypeGroup       LayerType = "group"
	LayerTypeText        LayerType = "type"
	LayerTypeSmartObject LayerType = "smartobject"
	LayerTypeOther       LayerType = "other"
)

// ParseLayerType maps an extraction "kind" onto the layer types the pipeline cares about.
func ParseLayerType(kind string) LayerType {
	switch LayerType(kind) {
	case LayerTypeGroup, LayerTypeText, LayerTypeSmartObject:
		return LayerType(kind)
	default:
		return LayerTypeOther
	}
}

// Signed URL intents
type ClientMethod string

const (
	ClientMethodGet ClientMethod = "get"
	ClientMethodPut ClientMethod = "put"
)

// Render API job states. Anything other than succeeded/failed is in progress.
type RenderStatus string

const (
	RenderStatusPending   RenderStatus = "pending"
	RenderStatusRunning   RenderStatus = "running"
	RenderStatusSucceeded RenderStatus = "succeeded"
	RenderStatusFailed    RenderStatus = "failed"
	RenderStatusUnknown   RenderStatus = "unknown"
)

func (s RenderStatus) IsTerminal() bool {
	return s == RenderStatusSucceeded || s == RenderStatusFailed
}
