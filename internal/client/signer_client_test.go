package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetgen/api/internal/config"
	"github.com/assetgen/api/internal/model"
)

type fakeStorage struct {
	lastExpiry time.Duration
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	return nil
}

func (f *fakeStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, ErrObjectNotFound
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeStorage) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.lastExpiry = expiry
	return fmt.Sprintf("https://store.example/%s?X-Method=GET", key), nil
}

func (f *fakeStorage) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.lastExpiry = expiry
	return fmt.Sprintf("https://store.example/%s?X-Method=PUT", key), nil
}

func TestSignerClient_SignURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.SignedURLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "key-1", r.Header.Get("x-api-key"))
		if req.Filename == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no such template"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.SignedURLResponse{URL: "https://signed/" + req.Filename})
	}))
	defer srv.Close()

	c := NewSignerClient(&config.SignerConfig{URL: srv.URL, APIKey: "key-1"})
	require.True(t, c.IsConfigured())

	resp, err := c.SignURL(testContext(t), &model.SignedURLRequest{Filename: "a/b.psd", ClientMethod: model.ClientMethodGet, ExpiresIn: 720})
	require.NoError(t, err)
	assert.Equal(t, "https://signed/a/b.psd", resp.URL)

	_, err = c.SignURL(testContext(t), &model.SignedURLRequest{Filename: "missing", ClientMethod: model.ClientMethodGet})
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.Equal(t, "no such template", gwErr.Message)
}

func TestStorageSigner_Defaults(t *testing.T) {
	store := &fakeStorage{}
	signer := NewStorageSigner(store, &config.PipelineConfig{ReadURLTTL: 720 * time.Second, WriteURLTTL: time.Hour}, "")

	resp, err := signer.SignURL(testContext(t), &model.SignedURLRequest{Filename: "t/x.psd", ClientMethod: model.ClientMethodGet})
	require.NoError(t, err)
	assert.Contains(t, resp.URL, "X-Method=GET")
	assert.Equal(t, 720*time.Second, store.lastExpiry)

	resp, err = signer.SignURL(testContext(t), &model.SignedURLRequest{Filename: "t/x.jpg", ClientMethod: model.ClientMethodPut, ExpiresIn: 60})
	require.NoError(t, err)
	assert.False(t, resp.IsRelay())
	assert.Equal(t, time.Minute, store.lastExpiry)

	_, err = signer.SignURL(testContext(t), &model.SignedURLRequest{Filename: "t/x.jpg", ClientMethod: "delete"})
	assert.Error(t, err)
}

func TestStorageSigner_RelayShape(t *testing.T) {
	signer := NewStorageSigner(&fakeStorage{}, &config.PipelineConfig{WriteURLTTL: time.Hour}, "https://app.example/api/storage/relay")

	resp, err := signer.SignURL(testContext(t), &model.SignedURLRequest{Filename: "t/in.png", ClientMethod: model.ClientMethodPut})
	require.NoError(t, err)
	assert.True(t, resp.IsRelay())
	assert.Equal(t, "https://app.example/api/storage/relay", resp.UploadURL)
	assert.Contains(t, resp.PresignedURL, "X-Method=PUT")
	assert.Empty(t, resp.URL)
}
