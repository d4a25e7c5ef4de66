package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/assetgen/api/internal/config"
	"github.com/assetgen/api/internal/model"
)

// ErrNoJobURL is returned when a submission response has no self link
var ErrNoJobURL = errors.New("no job URL returned")

// RenderAPI defines the operations the pipeline needs from the render service
type RenderAPI interface {
	Authenticate(ctx context.Context) (string, error)
	Submit(ctx context.Context, token string, doc *model.RenderJobDocument) (string, error)
	Status(ctx context.Context, token, jobURL string) (*model.StatusDocument, error)
}

// APIError is a non-2xx answer from the render API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firefly API error (status %d): %s", e.StatusCode, e.Body)
}

// FireflyClient implements RenderAPI for the Firefly/Photoshop render API
type FireflyClient struct {
	httpClient  *http.Client
	baseURL     string
	submitPath  string
	apiKey      string
	credentials clientcredentials.Config
}

// NewFireflyClient creates a new render API client
func NewFireflyClient(cfg *config.FireflyConfig) *FireflyClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	submitPath := cfg.SubmitPath
	if submitPath == "" {
		submitPath = "/assets"
	}

	return &FireflyClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    cfg.BaseURL,
		submitPath: submitPath,
		apiKey:     cfg.ClientID,
		credentials: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

// IsConfigured returns true if the client has valid configuration
func (c *FireflyClient) IsConfigured() bool {
	return c.baseURL != "" && c.credentials.ClientID != "" && c.credentials.ClientSecret != ""
}

// Authenticate obtains a bearer token with the client credentials grant
func (c *FireflyClient) Authenticate(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	log.Printf("[Firefly API] → token %s", c.credentials.TokenURL)
	tok, err := c.credentials.Token(ctx)
	if err != nil {
		log.Printf("[Firefly API] ✗ token request failed: %v", err)
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}
	log.Printf("[Firefly API] ← token (expires %s)", tok.Expiry.Format(time.RFC3339))
	return tok.AccessToken, nil
}

// Submit posts a render job and returns its status URL
func (c *FireflyClient) Submit(ctx context.Context, token string, doc *model.RenderJobDocument) (string, error) {
	var result model.SubmitResponse
	if err := c.post(ctx, token, c.baseURL+c.submitPath, doc, &result); err != nil {
		return "", err
	}
	if result.Links.Self.Href == "" {
		return "", ErrNoJobURL
	}
	return result.Links.Self.Href, nil
}

// Status fetches the current state of a job
func (c *FireflyClient) Status(ctx context.Context, token, jobURL string) (*model.StatusDocument, error) {
	var result model.StatusDocument
	if err := c.get(ctx, token, jobURL, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post sends a POST request with JSON body
func (c *FireflyClient) post(ctx context.Context, token, url string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, token, result)
}

// get sends a GET request and parses JSON response
func (c *FireflyClient) get(ctx context.Context, token, url string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, token, result)
}

// doRequest executes an HTTP request and parses the response
func (c *FireflyClient) doRequest(req *http.Request, token string, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-api-key", c.apiKey)

	log.Printf("[Firefly API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Firefly API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Firefly API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Firefly API] ← %d %s %s — %s", resp.StatusCode, req.Method, req.URL.String(), string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Firefly API] ✗ unmarshal error for %s %s: %v (body: %s)", req.Method, req.URL.String(), err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
