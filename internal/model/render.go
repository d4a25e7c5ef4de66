package model

const (
	StorageExternal = "external"
	OutputTypeJPEG  = "image/jpeg"
)

// LayerEditDescriptor is one entry of options.layers in a render job.
type LayerEditDescriptor struct {
	Name    string       `json:"name"`
	Visible bool         `json:"visible"`
	Edit    struct{}     `json:"edit"`
	Text    *TextContent `json:"text,omitempty"`
	Input   *ExternalRef `json:"input,omitempty"`
}

type TextContent struct {
	Content string `json:"content"`
}

// ExternalRef points the render API at a signed URL.
type ExternalRef struct {
	Storage string `json:"storage"`
	Href    string `json:"href"`
}

type RenderOutput struct {
	Href    string `json:"href"`
	Storage string `json:"storage"`
	Type    string `json:"type"`
}

type RenderOptions struct {
	Layers []LayerEditDescriptor `json:"layers"`
}

// RenderJobDocument is the body of the render submission request.
type RenderJobDocument struct {
	Inputs  []ExternalRef  `json:"inputs"`
	Outputs []RenderOutput `json:"outputs"`
	Options RenderOptions  `json:"options"`
}

// NewRenderJobDocument wires the template and destination URLs around a layer list.
func NewRenderJobDocument(templateReadURL, outputWriteURL string, layers []LayerEditDescriptor) RenderJobDocument {
	return RenderJobDocument{
		Inputs: []ExternalRef{{Storage: StorageExternal, Href: templateReadURL}},
		Outputs: []RenderOutput{{
			Href:    outputWriteURL,
			Storage: StorageExternal,
			Type:    OutputTypeJPEG,
		}},
		Options: RenderOptions{Layers: layers},
	}
}

// SubmitResponse carries the job's self link.
type SubmitResponse struct {
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
}

// StatusDocument is the status response. The render API reports the state
// either at the top level or on the first output.
type StatusDocument struct {
	Status  string         `json:"status,omitempty"`
	Outputs []OutputStatus `json:"outputs,omitempty"`
}

type OutputStatus struct {
	Status string `json:"status"`
	Errors any    `json:"errors,omitempty"`
}

// StatusShape identifies which variant of StatusDocument was received.
type StatusShape int

const (
	StatusShapeUnknown StatusShape = iota
	StatusShapeTopLevel
	StatusShapeOutputs
)

func (d StatusDocument) Shape() StatusShape {
	switch {
	case d.Status != "":
		return StatusShapeTopLevel
	case len(d.Outputs) > 0 && d.Outputs[0].Status != "":
		return StatusShapeOutputs
	default:
		return StatusShapeUnknown
	}
}

// Resolve returns the job state, checking the top level before outputs[0].
func (d StatusDocument) Resolve() RenderStatus {
	switch d.Shape() {
	case StatusShapeTopLevel:
		return RenderStatus(d.Status)
	case StatusShapeOutputs:
		return RenderStatus(d.Outputs[0].Status)
	default:
		return RenderStatusUnknown
	}
}
