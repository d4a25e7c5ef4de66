package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
)

var (
	ErrStorageNotConfigured = errors.New("storage not configured")
	ErrRelayTarget          = errors.New("presigned URL does not target the configured bucket")
)

// RelayError is a non-2xx answer from the object store to a relayed upload
type RelayError struct {
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("object store rejected upload (status %d): %s", e.StatusCode, e.Body)
}

// StorageService backs the signed URL gateway, the upload relay and object listing
type StorageService struct {
	storage    client.StorageClient
	signer     client.URLSigner
	httpClient *http.Client

	mu        sync.Mutex
	relayHost string
}

// NewStorageService creates a storage service. storage may be nil when no bucket is configured.
func NewStorageService(storage client.StorageClient, signer client.URLSigner) *StorageService {
	return &StorageService{
		storage:    storage,
		signer:     signer,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// SignURL issues a signed URL for req
func (s *StorageService) SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error) {
	if s.signer == nil {
		return nil, ErrStorageNotConfigured
	}
	return s.signer.SignURL(ctx, req)
}

// ListObjects lists keys under prefix
func (s *StorageService) ListObjects(ctx context.Context, prefix string) (*model.ListObjectsResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}

	objects, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	if objects == nil {
		objects = []model.ObjectInfo{}
	}

	return &model.ListObjectsResponse{
		Prefix:  prefix,
		Objects: objects,
	}, nil
}

// DeleteObject removes a single key
func (s *StorageService) DeleteObject(ctx context.Context, key string) error {
	if s.storage == nil {
		return ErrStorageNotConfigured
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Relay PUTs body to presignedURL on behalf of a client that cannot reach the
// object store directly. Only URLs on the configured bucket's host are accepted.
func (s *StorageService) Relay(ctx context.Context, presignedURL string, body io.Reader, size int64, contentType string) (*model.RelayUploadResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}

	target, err := url.Parse(presignedURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, ErrRelayTarget
	}
	host, err := s.allowedHost(ctx)
	if err != nil {
		return nil, err
	}
	if target.Host != host {
		log.Printf("[Relay] ✗ rejected target host %s (allowed %s)", target.Host, host)
		return nil, ErrRelayTarget
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Printf("[Relay] → PUT %s%s (%d bytes)", target.Host, target.Path, size)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[Relay] ✗ %s — request failed: %v", target.Path, err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[Relay] ← %d %s", resp.StatusCode, target.Path)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RelayError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	return &model.RelayUploadResponse{Success: true, Size: size}, nil
}

// allowedHost is the host the storage driver presigns against, learned once.
func (s *StorageService) allowedHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relayHost != "" {
		return s.relayHost, nil
	}

	probe, err := s.storage.PresignPut(ctx, "relay-probe", time.Minute)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage host: %w", err)
	}
	u, err := url.Parse(probe)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage host: %w", err)
	}
	s.relayHost = u.Host
	return s.relayHost, nil
}
