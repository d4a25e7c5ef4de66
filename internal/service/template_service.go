package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/pipeline"
)

// ErrTemplateNotFound is returned when a template has no extracted layer structure.
var ErrTemplateNotFound = errors.New("template not found")

// maxTemplateDocument bounds the size of a layer_structure.json read from storage.
const maxTemplateDocument = 16 << 20

// TemplateService loads template layer trees from the object store
type TemplateService struct {
	storage client.StorageClient
}

func NewTemplateService(storage client.StorageClient) *TemplateService {
	return &TemplateService{storage: storage}
}

// GetLayers returns the parsed layer tree and its defaults for templateKey
func (s *TemplateService) GetLayers(ctx context.Context, templateKey string) (*model.TemplateLayersResponse, error) {
	doc, err := s.loadDocument(ctx, templateKey)
	if err != nil {
		return nil, err
	}

	layers, err := ToLayerNodes(doc.Layers)
	if err != nil {
		return nil, err
	}

	return &model.TemplateLayersResponse{
		TemplateKey: templateKey,
		PSDFile:     doc.PSDFile,
		TotalLayers: model.CountLayers(layers),
		Layers:      layers,
		Originals:   model.OriginalsFromLayers(layers),
	}, nil
}

// LoadLayers returns only the layer tree, as the pipeline consumes it
func (s *TemplateService) LoadLayers(ctx context.Context, templateKey string) ([]model.LayerNode, error) {
	doc, err := s.loadDocument(ctx, templateKey)
	if err != nil {
		return nil, err
	}
	return ToLayerNodes(doc.Layers)
}

func (s *TemplateService) loadDocument(ctx context.Context, templateKey string) (*model.TemplateDocument, error) {
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}

	key := pipeline.LayerStructureKey(templateKey)
	body, err := s.storage.Download(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxTemplateDocument))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var doc model.TemplateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("[Templates] ✗ %s is not a layer structure: %v", key, err)
		return nil, fmt.Errorf("%w: %s is not valid JSON: %w", pipeline.ErrValidation, key, err)
	}
	return &doc, nil
}

// ToLayerNodes converts extracted template layers into the pipeline's tree.
// Layers without an explicit visibility are visible. IDs must be unique across the tree.
func ToLayerNodes(layers []model.TemplateLayer) ([]model.LayerNode, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: template has no layers", pipeline.ErrValidation)
	}

	seen := make(map[int]bool)
	var convert func([]model.TemplateLayer) ([]model.LayerNode, error)
	convert = func(in []model.TemplateLayer) ([]model.LayerNode, error) {
		out := make([]model.LayerNode, 0, len(in))
		for _, l := range in {
			if seen[l.ID] {
				return nil, fmt.Errorf("%w: duplicate layer id %d", pipeline.ErrValidation, l.ID)
			}
			seen[l.ID] = true

			kind := l.Type
			if kind == "" {
				kind = l.LayerProperties.Kind
			}
			node := model.LayerNode{
				ID:      l.ID,
				Name:    l.Name,
				Type:    model.ParseLayerType(kind),
				Visible: l.LayerProperties.Visible == nil || *l.LayerProperties.Visible,
			}
			if node.Type == model.LayerTypeText && l.LayerProperties.Text != nil {
				text := *l.LayerProperties.Text
				node.Text = &text
			}

			children, err := convert(l.Children)
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				node.Children = children
			}
			out = append(out, node)
		}
		return out, nil
	}

	return convert(layers)
}

// ValidateEdits checks that every edit targets a layer of the right type.
func ValidateEdits(layers []model.LayerNode, edits model.EditSet) error {
	for id := range edits.Visibility {
		if _, ok := model.FindLayer(layers, id); !ok {
			return fmt.Errorf("%w: visibility edit for unknown layer %d", pipeline.ErrValidation, id)
		}
	}
	for id := range edits.Text {
		node, ok := model.FindLayer(layers, id)
		if !ok {
			return fmt.Errorf("%w: text edit for unknown layer %d", pipeline.ErrValidation, id)
		}
		if node.Type != model.LayerTypeText {
			return fmt.Errorf("%w: layer %d is not a text layer", pipeline.ErrValidation, id)
		}
	}
	for id, f := range edits.SmartObjects {
		if f == nil {
			continue
		}
		node, ok := model.FindLayer(layers, id)
		if !ok {
			return fmt.Errorf("%w: smart object for unknown layer %d", pipeline.ErrValidation, id)
		}
		if node.Type != model.LayerTypeSmartObject {
			return fmt.Errorf("%w: layer %d is not a smart object", pipeline.ErrValidation, id)
		}
	}
	return nil
}
