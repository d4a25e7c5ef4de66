package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
)

// memStorage is an in-memory StorageClient.
type memStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	presignURL string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), presignURL: "https://bucket.example.com"}
}

func (m *memStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, client.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStorage) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, model.ObjectInfo{Key: k, Size: int64(len(v)), LastModified: time.Unix(0, 0)})
		}
	}
	return out, nil
}

func (m *memStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return m.presignURL + "/" + key + "?X-Amz-Signature=get", nil
}

func (m *memStorage) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return m.presignURL + "/" + key + "?X-Amz-Signature=put", nil
}

func (m *memStorage) put(key, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(body)
}
