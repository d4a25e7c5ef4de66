package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/assetgen/api/internal/middleware"
	"github.com/assetgen/api/internal/model"
	"github.com/assetgen/api/internal/pipeline"
	"github.com/assetgen/api/internal/service"
	"github.com/assetgen/api/internal/spool"
	ws "github.com/assetgen/api/internal/websocket"
	"github.com/assetgen/api/pkg/response"
)

const (
	maxSmartObjectSize = 50 * 1024 * 1024 // 50MB
	smartObjectField   = "smartObject."
	canceledMessage    = "Run canceled"
)

// GenerationRuns is the run lifecycle the handler drives
type GenerationRuns interface {
	Start(ctx context.Context, userID string, req *model.GenerationRequest) (*model.GenerationStartResponse, error)
	Retry(ctx context.Context, userID, runID string) (*model.GenerationStartResponse, error)
	GetRun(ctx context.Context, userID, runID string) (*model.GenerationRun, error)
	GetStatus(ctx context.Context, userID, runID string) (*model.GenerationStatusResponse, error)
	GetResult(ctx context.Context, userID, runID string) (*model.Artifact, error)
	Cancel(ctx context.Context, userID, runID string) (*model.GenerationCancelResponse, error)
}

// RunEvents is the websocket side of a run
type RunEvents interface {
	HandleConnection(c *websocket.Conn, runID string, initial ...interface{})
	BroadcastError(runID string, code, message string, stage model.Stage)
}

type GenerationHandler struct {
	runs      GenerationRuns
	spool     *spool.Spool
	hub       RunEvents
	validator *validator.Validate
}

func NewGenerationHandler(runs GenerationRuns, sp *spool.Spool, hub RunEvents, v *validator.Validate) *GenerationHandler {
	return &GenerationHandler{
		runs:      runs,
		spool:     sp,
		hub:       hub,
		validator: v,
	}
}

// Start handles POST /api/generations.
// JSON bodies carry visibility and text edits only; replacement images need
// multipart with a "request" field and one "smartObject.<layerId>" file per layer.
func (h *GenerationHandler) Start(c *fiber.Ctx) error {
	var req model.GenerationRequest
	var batch *spool.Batch

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return response.ValidationError(c, "Invalid multipart body", nil)
		}
		raw := form.Value["request"]
		if len(raw) == 0 || json.Unmarshal([]byte(raw[0]), &req) != nil {
			return response.ValidationError(c, "request field must be a JSON generation request", nil)
		}
		req.Edits.SmartObjects = nil

		files, err := smartObjectFiles(form)
		if err != nil {
			return response.ValidationError(c, err.Error(), nil)
		}
		if len(files) > 0 {
			if h.spool == nil {
				return response.Unavailable(c, "File staging not configured")
			}
			batch, err = h.spool.NewBatch()
			if err != nil {
				return response.ServiceError(c, "Failed to stage files")
			}
			req.Edits.SmartObjects, err = stageFiles(batch, files)
			if err != nil {
				batch.Discard()
				return response.ServiceError(c, err.Error())
			}
		}
	} else {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		// local paths never come from clients
		req.Edits.SmartObjects = nil
	}

	if err := h.validator.Struct(&req); err != nil {
		if batch != nil {
			batch.Discard()
		}
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.runs.Start(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		if batch != nil {
			batch.Discard()
		}
		return generationError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generations/:runId
func (h *GenerationHandler) Status(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	result, err := h.runs.GetStatus(c.UserContext(), middleware.GetUserID(c), runID)
	if err != nil {
		return generationError(c, err)
	}

	return response.OK(c, result)
}

// Result handles GET /api/generations/:runId/result
func (h *GenerationHandler) Result(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	result, err := h.runs.GetResult(c.UserContext(), middleware.GetUserID(c), runID)
	if err != nil {
		return generationError(c, err)
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/generations/:runId/cancel
func (h *GenerationHandler) Cancel(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	result, err := h.runs.Cancel(c.UserContext(), middleware.GetUserID(c), runID)
	if err != nil {
		return generationError(c, err)
	}

	if h.hub != nil {
		var stage model.Stage
		if result.FailedStage != nil {
			stage = *result.FailedStage
		}
		h.hub.BroadcastError(runID, service.CodeCanceled, canceledMessage, stage)
	}

	return response.OK(c, result)
}

// Retry handles POST /api/generations/:runId/retry
func (h *GenerationHandler) Retry(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	result, err := h.runs.Retry(c.UserContext(), middleware.GetUserID(c), runID)
	if err != nil {
		return generationError(c, err)
	}

	return response.Accepted(c, result)
}

// Stream handles GET /ws/generations/:runId. The current stage snapshot is
// sent before live events.
func (h *GenerationHandler) Stream(c *websocket.Conn) {
	runID := c.Params("runId")
	userID, _ := c.Locals("userId").(string)

	run, err := h.runs.GetRun(context.Background(), userID, runID)
	if err != nil {
		msg := model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			RunID: runID,
			Error: model.WSError{Code: response.CodeNotFound, Message: "Run not found"},
		}
		if !errors.Is(err, service.ErrRunNotFound) {
			log.Printf("[Generations] stream %s: %v", runID, err)
			msg.Error = model.WSError{Code: response.CodeServiceError, Message: "Failed to load run"}
		}
		_ = c.WriteJSON(msg)
		return
	}

	h.hub.HandleConnection(c, runID, runSnapshot(run)...)
}

// runSnapshot replays the stored state of run as websocket events
func runSnapshot(run *model.GenerationRun) []interface{} {
	var msgs []interface{}
	for _, st := range run.Stages {
		if st.Status == model.StageStatusPending {
			continue
		}
		msgs = append(msgs, ws.StageMessage(run.ID, st))
	}

	switch run.Status {
	case model.JobStatusSucceeded:
		msgs = append(msgs, model.WSCompleteMessage{
			Type:   model.WSMessageTypeComplete,
			RunID:  run.ID,
			Result: run.Result,
		})
	case model.JobStatusFailed, model.JobStatusCanceled:
		we := model.WSError{Code: run.ErrorCode}
		if run.Status == model.JobStatusCanceled {
			we.Message = canceledMessage
			if we.Code == "" {
				we.Code = service.CodeCanceled
			}
		} else if we.Code == "" {
			we.Code = response.CodeJobFailed
		}
		if run.Error != nil {
			we.Message = *run.Error
		}
		if run.FailedStage != nil {
			we.Stage = *run.FailedStage
		}
		msgs = append(msgs, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			RunID: run.ID,
			Error: we,
		})
	}
	return msgs
}

func smartObjectFiles(form *multipart.Form) (map[int]*multipart.FileHeader, error) {
	files := make(map[int]*multipart.FileHeader)
	for field, headers := range form.File {
		if !strings.HasPrefix(field, smartObjectField) || len(headers) == 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(field, smartObjectField))
		if err != nil {
			return nil, fmt.Errorf("invalid layer id in field %q", field)
		}
		fh := headers[0]
		if fh.Size > maxSmartObjectSize {
			return nil, fmt.Errorf("file for layer %d exceeds 50MB limit", id)
		}
		if ct := fh.Header.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, "image/") && ct != "application/octet-stream" {
			return nil, fmt.Errorf("file for layer %d must be an image", id)
		}
		files[id] = fh
	}
	return files, nil
}

func stageFiles(batch *spool.Batch, files map[int]*multipart.FileHeader) (map[int]*model.LocalFile, error) {
	staged := make(map[int]*model.LocalFile, len(files))
	for id, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file for layer %d", id)
		}
		lf, err := batch.Add(id, fh.Filename, fh.Header.Get(fiber.HeaderContentType), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		staged[id] = lf
	}
	return staged, nil
}

func generationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		return response.NotFound(c, "Run not found")
	case errors.Is(err, service.ErrTemplateNotFound):
		return response.NotFound(c, "Template not found")
	case errors.Is(err, pipeline.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, service.ErrRunNotCompleted):
		return response.ValidationError(c, "Run not completed yet", nil)
	case errors.Is(err, service.ErrRunFinished):
		return response.Conflict(c, "Run already finished")
	case errors.Is(err, service.ErrRunNotRetryable):
		return response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrStorageNotConfigured):
		return response.Unavailable(c, "Storage not configured")
	}
	return response.ServiceError(c, err.Error())
}
