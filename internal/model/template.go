package model

// TemplateDocument is the layer_structure.json written by the PSD extraction tool.
type TemplateDocument struct {
	PSDFile string          `json:"psd_file"`
	Summary TemplateSummary `json:"summary"`
	Layers  []TemplateLayer `json:"layers"`
}

type TemplateSummary struct {
	TotalLayers           int     `json:"total_layers"`
	SuccessfulExtractions int     `json:"successful_extractions"`
	EmptyExtractions      int     `json:"empty_extractions"`
	FailedExtractions     int     `json:"failed_extractions"`
	PSDInfo               PSDInfo `json:"psd_info"`
}

type PSDInfo struct {
	Size      []int  `json:"size"`
	ColorMode string `json:"color_mode"`
	Depth     int    `json:"depth"`
}

type TemplateLayer struct {
	ID              int                     `json:"id"`
	Name            string                  `json:"name"`
	Type            string                  `json:"type"`
	PreviewStatus   string                  `json:"preview_status,omitempty"`
	LayerProperties TemplateLayerProperties `json:"layer_properties"`
	Preview         string                  `json:"preview,omitempty"`
	Children        []TemplateLayer         `json:"children,omitempty"`
}

type TemplateLayerProperties struct {
	Kind      string   `json:"kind"`
	Visible   *bool    `json:"visible"`
	Opacity   *float64 `json:"opacity,omitempty"`
	BlendMode string   `json:"blend_mode,omitempty"`
	Text      *string  `json:"text,omitempty"`
	BBox      []int    `json:"bbox,omitempty"`
	Size      []int    `json:"size,omitempty"`
}

// TemplateLayersResponse is returned by GET /api/templates/layers
type TemplateLayersResponse struct {
	TemplateKey string      `json:"templateKey"`
	PSDFile     string      `json:"psdFile"`
	TotalLayers int         `json:"totalLayers"`
	Layers      []LayerNode `json:"layers"`
	Originals   Originals   `json:"originals"`
}
