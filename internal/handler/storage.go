package handler

import (
	"context"
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/service"
	"github.com/assetgen/api/pkg/response"
)

const maxRelaySize = 50 * 1024 * 1024 // 50MB

// ObjectStore is the storage surface exposed over HTTP
type ObjectStore interface {
	SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error)
	ListObjects(ctx context.Context, prefix string) (*model.ListObjectsResponse, error)
	DeleteObject(ctx context.Context, key string) error
	Relay(ctx context.Context, presignedURL string, body io.Reader, size int64, contentType string) (*model.RelayUploadResponse, error)
}

type StorageHandler struct {
	store     ObjectStore
	validator *validator.Validate
}

func NewStorageHandler(store ObjectStore, v *validator.Validate) *StorageHandler {
	return &StorageHandler{
		store:     store,
		validator: v,
	}
}

// SignedURL handles POST /api/storage/signed-url
func (h *StorageHandler) SignedURL(c *fiber.Ctx) error {
	var req model.SignedURLRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.store.SignURL(c.UserContext(), &req)
	if err != nil {
		return storageError(c, err)
	}

	return response.OK(c, result)
}

// Relay handles POST /api/storage/relay
func (h *StorageHandler) Relay(c *fiber.Ctx) error {
	presignedURL := c.FormValue("presignedUrl")
	if presignedURL == "" {
		return response.ValidationError(c, "presignedUrl is required", nil)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxRelaySize {
		return response.ValidationError(c, "File size exceeds 50MB limit", map[string]interface{}{
			"maxSize":  maxRelaySize,
			"fileSize": file.Size,
		})
	}

	contentType := c.FormValue("contentType")
	if contentType == "" {
		contentType = file.Header.Get(fiber.HeaderContentType)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	result, err := h.store.Relay(c.UserContext(), presignedURL, f, file.Size, contentType)
	if err != nil {
		return storageError(c, err)
	}

	return response.OK(c, result)
}

// List handles GET /api/storage/objects?prefix=
func (h *StorageHandler) List(c *fiber.Ctx) error {
	result, err := h.store.ListObjects(c.UserContext(), c.Query("prefix"))
	if err != nil {
		return storageError(c, err)
	}

	return response.OK(c, result)
}

// Delete handles DELETE /api/storage/objects?key=
func (h *StorageHandler) Delete(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return response.ValidationError(c, "key is required", nil)
	}

	if err := h.store.DeleteObject(c.UserContext(), key); err != nil {
		return storageError(c, err)
	}

	return response.NoContent(c)
}

func storageError(c *fiber.Ctx, err error) error {
	var gwErr *client.GatewayError
	var relayErr *service.RelayError

	switch {
	case errors.Is(err, service.ErrStorageNotConfigured):
		return response.Unavailable(c, "Storage not configured")
	case errors.Is(err, service.ErrRelayTarget):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, client.ErrObjectNotFound):
		return response.NotFound(c, "Object not found")
	case errors.As(err, &gwErr):
		return response.UpstreamError(c, gwErr.StatusCode, gwErr.Message)
	case errors.As(err, &relayErr):
		return response.UpstreamError(c, relayErr.StatusCode, relayErr.Error())
	}
	return response.ServiceError(c, err.Error())
}
