package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/assetgen/api/internal/auth"
	"github.com/assetgen/api/internal/handler"
	"github.com/assetgen/api/internal/middleware"
	"github.com/assetgen/api/internal/service"
	"github.com/assetgen/api/internal/spool"
	ws "github.com/assetgen/api/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// setupApp creates a Fiber app wired like main.go but without object storage,
// signer or render API. Runs are queued but no worker consumes them.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis (localhost, must be running)
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	redisOpt := asynq.RedisClientOpt{Addr: "localhost:6379", DB: 15}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })
	inspector := asynq.NewInspector(redisOpt)
	t.Cleanup(func() { inspector.Close() })

	validate := validator.New()
	hub := ws.NewHub()
	go hub.Run()

	// Services; storage is unconfigured
	templateService := service.NewTemplateService(nil)
	generationService := service.NewGenerationService(redisClient, asynqClient, inspector, nil)
	storageService := service.NewStorageService(nil, nil)

	// Handlers
	generationHandler := handler.NewGenerationHandler(generationService, spool.New(t.TempDir()), hub, validate)
	templateHandler := handler.NewTemplateHandler(templateService)
	storageHandler := handler.NewStorageHandler(storageService, validate)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)

	// Auth middleware, legacy HMAC only
	authMiddleware := middleware.NewLegacyAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"storage": false,
				"signer":  false,
				"firefly": false,
				"auth":    true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes (authenticated)
	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerationLimit(10000), generationHandler.Start)
	generations.Get("/:runId", generationHandler.Status)
	generations.Get("/:runId/result", generationHandler.Result)
	generations.Post("/:runId/cancel", generationHandler.Cancel)
	generations.Post("/:runId/retry", rateLimiter.GenerationLimit(10000), generationHandler.Retry)

	api.Get("/templates/layers", templateHandler.Layers)

	storage := api.Group("/storage")
	storage.Post("/signed-url", rateLimiter.SignedURLLimit(10000), storageHandler.SignedURL)
	storage.Post("/relay", rateLimiter.RelayLimit(10000), storageHandler.Relay)
	storage.Get("/objects", storageHandler.List)
	storage.Delete("/objects", storageHandler.Delete)

	return &testApp{app: app}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	return generateTokenFor(t, testUserID)
}

func generateTokenFor(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(testJWTSecret, userID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts error.code from an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}
