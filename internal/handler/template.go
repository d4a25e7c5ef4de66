package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/pkg/response"
)

// TemplateLayers loads the layer tree of a template
type TemplateLayers interface {
	GetLayers(ctx context.Context, templateKey string) (*model.TemplateLayersResponse, error)
}

type TemplateHandler struct {
	templates TemplateLayers
}

func NewTemplateHandler(templates TemplateLayers) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

// Layers handles GET /api/templates/layers?key=
func (h *TemplateHandler) Layers(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return response.ValidationError(c, "key is required", nil)
	}

	result, err := h.templates.GetLayers(c.UserContext(), key)
	if err != nil {
		return generationError(c, err)
	}

	return response.OK(c, result)
}
