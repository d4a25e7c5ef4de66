package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/assetgen/api/internal/config"
	"github.com/assetgen/api/internal/model"
)

// URLSigner issues time-limited URLs for object keys
type URLSigner interface {
	SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error)
}

// GatewayError is returned when the signed URL gateway answers with a non-2xx status
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("signed URL gateway error (status %d): %s", e.StatusCode, e.Message)
}

// SignerClient calls an external signed URL gateway over HTTP
type SignerClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// NewSignerClient creates a client for the gateway at cfg.URL
func NewSignerClient(cfg *config.SignerConfig) *SignerClient {
	return &SignerClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:    cfg.URL,
		apiKey: cfg.APIKey,
	}
}

// IsConfigured returns true if the client has a gateway URL
func (c *SignerClient) IsConfigured() bool {
	return c.url != ""
}

// SignURL requests a signed URL for req.Filename
func (c *SignerClient) SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	log.Printf("[Signer] → %s %s (%s %s)", httpReq.Method, c.url, req.ClientMethod, req.Filename)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[Signer] ✗ %s — request failed: %v", req.Filename, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Signer] ← %d %s", resp.StatusCode, req.Filename)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gwErr model.SignedURLError
		msg := string(respBody)
		if json.Unmarshal(respBody, &gwErr) == nil && gwErr.Error != "" {
			msg = gwErr.Error
		}
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result model.SignedURLResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// StorageSigner serves the gateway contract in-process from a StorageClient.
// When relayURL is set, write-intent requests return the relay shape.
type StorageSigner struct {
	storage  StorageClient
	readTTL  time.Duration
	writeTTL time.Duration
	relayURL string
}

// NewStorageSigner creates an in-process signer over storage
func NewStorageSigner(storage StorageClient, cfg *config.PipelineConfig, relayURL string) *StorageSigner {
	return &StorageSigner{
		storage:  storage,
		readTTL:  cfg.ReadURLTTL,
		writeTTL: cfg.WriteURLTTL,
		relayURL: relayURL,
	}
}

// SignURL presigns req.Filename for the requested method
func (s *StorageSigner) SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error) {
	if req.Filename == "" {
		return nil, &GatewayError{StatusCode: http.StatusBadRequest, Message: "filename is required"}
	}

	switch req.ClientMethod {
	case model.ClientMethodGet:
		u, err := s.storage.PresignGet(ctx, req.Filename, s.expiry(req.ExpiresIn, s.readTTL))
		if err != nil {
			return nil, err
		}
		return &model.SignedURLResponse{URL: u}, nil

	case model.ClientMethodPut:
		u, err := s.storage.PresignPut(ctx, req.Filename, s.expiry(req.ExpiresIn, s.writeTTL))
		if err != nil {
			return nil, err
		}
		if s.relayURL != "" {
			return &model.SignedURLResponse{UploadURL: s.relayURL, PresignedURL: u}, nil
		}
		return &model.SignedURLResponse{URL: u}, nil

	default:
		return nil, &GatewayError{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("unsupported client_method %q", req.ClientMethod),
		}
	}
}

func (s *StorageSigner) expiry(requested int, fallback time.Duration) time.Duration {
	if requested > 0 {
		return time.Duration(requested) * time.Second
	}
	return fallback
}
