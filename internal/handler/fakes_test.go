package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/assetgen/api/internal/model"
)

const testUserID = "user-1"

type fakeRuns struct {
	started     *model.GenerationRequest
	startErr    error
	retried     string
	runErr      error
	run         *model.GenerationRun
	result      *model.Artifact
	cancelErr   error
	cancelStage *model.Stage
	userIDs     []string
}

func (f *fakeRuns) Start(_ context.Context, userID string, req *model.GenerationRequest) (*model.GenerationStartResponse, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = req
	return &model.GenerationStartResponse{RunID: "run-1", Status: model.JobStatusQueued}, nil
}

func (f *fakeRuns) Retry(_ context.Context, userID, runID string) (*model.GenerationStartResponse, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	f.retried = runID
	return &model.GenerationStartResponse{RunID: "run-2", Status: model.JobStatusQueued, RetryOf: runID}, nil
}

func (f *fakeRuns) GetRun(_ context.Context, userID, _ string) (*model.GenerationRun, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.run, nil
}

func (f *fakeRuns) GetStatus(_ context.Context, userID, runID string) (*model.GenerationStatusResponse, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &model.GenerationStatusResponse{RunID: runID, Status: model.JobStatusRunning}, nil
}

func (f *fakeRuns) GetResult(_ context.Context, userID, _ string) (*model.Artifact, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeRuns) Cancel(_ context.Context, userID, runID string) (*model.GenerationCancelResponse, error) {
	f.userIDs = append(f.userIDs, userID)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &model.GenerationCancelResponse{Success: true, RunID: runID, Status: model.JobStatusCanceled, FailedStage: f.cancelStage}, nil
}

type sentError struct {
	runID   string
	code    string
	message string
	stage   model.Stage
}

type fakeEvents struct {
	errors []sentError
}

func (f *fakeEvents) HandleConnection(c *websocket.Conn, runID string, initial ...interface{}) {}

func (f *fakeEvents) BroadcastError(runID string, code, message string, stage model.Stage) {
	f.errors = append(f.errors, sentError{runID: runID, code: code, message: message, stage: stage})
}

type fakeStore struct {
	signed     *model.SignedURLRequest
	signErr    error
	relayed    []byte
	relayURL   string
	relayType  string
	relayErr   error
	listPrefix string
	deleted    string
	err        error
}

func (f *fakeStore) SignURL(_ context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signed = req
	return &model.SignedURLResponse{URL: "https://signed.example/" + req.Filename}, nil
}

func (f *fakeStore) ListObjects(_ context.Context, prefix string) (*model.ListObjectsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.listPrefix = prefix
	return &model.ListObjectsResponse{Prefix: prefix, Objects: []model.ObjectInfo{{Key: prefix + "a.png", Size: 3}}}, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = key
	return nil
}

func (f *fakeStore) Relay(_ context.Context, presignedURL string, body io.Reader, size int64, contentType string) (*model.RelayUploadResponse, error) {
	if f.relayErr != nil {
		return nil, f.relayErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.relayed = b
	f.relayURL = presignedURL
	f.relayType = contentType
	return &model.RelayUploadResponse{Success: true, Size: size}, nil
}

type fakeTemplates struct {
	key  string
	resp *model.TemplateLayersResponse
	err  error
}

func (f *fakeTemplates) GetLayers(_ context.Context, templateKey string) (*model.TemplateLayersResponse, error) {
	f.key = templateKey
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// newTestApp mounts routes behind a stub identity middleware
func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userId", testUserID)
		return c.Next()
	})
	return app
}

func newValidator() *validator.Validate {
	return validator.New()
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Code
}
