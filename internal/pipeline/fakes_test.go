package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/assetgen/api/internal/model"
)

// objectServer accepts PUT uploads and records the bytes per path.
type objectServer struct {
	*httptest.Server

	mu      sync.Mutex
	objects map[string][]byte
	failFor map[string]int
}

func newObjectServer(t *testing.T) *objectServer {
	t.Helper()
	s := &objectServer{objects: make(map[string][]byte), failFor: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if code, ok := s.failFor[r.URL.Path]; ok {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("<Error>AccessDenied</Error>"))
			return
		}
		s.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *objectServer) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects["/"+key]
	return b, ok
}

func (s *objectServer) fail(key string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor["/"+key] = code
}

// fakeSigner issues URLs against an objectServer.
type fakeSigner struct {
	mu        sync.Mutex
	base      string
	relayURL  string
	failKeys  map[string]error
	emptyKeys map[string]bool
	requests  []model.SignedURLRequest
}

func newFakeSigner(base string) *fakeSigner {
	return &fakeSigner{base: base, failKeys: map[string]error{}, emptyKeys: map[string]bool{}}
}

func (f *fakeSigner) SignURL(ctx context.Context, req *model.SignedURLRequest) (*model.SignedURLResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)

	if err, ok := f.failKeys[req.Filename]; ok {
		return nil, err
	}
	if f.emptyKeys[req.Filename] {
		return &model.SignedURLResponse{}, nil
	}
	switch req.ClientMethod {
	case model.ClientMethodGet:
		return &model.SignedURLResponse{URL: "https://signed.example/get/" + req.Filename}, nil
	case model.ClientMethodPut:
		u := f.base + "/" + req.Filename
		if f.relayURL != "" {
			return &model.SignedURLResponse{UploadURL: f.relayURL, PresignedURL: u}, nil
		}
		return &model.SignedURLResponse{URL: u}, nil
	}
	return nil, fmt.Errorf("unsupported method %s", req.ClientMethod)
}

func (f *fakeSigner) requestsFor(method model.ClientMethod) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		if r.ClientMethod == method {
			out = append(out, r.Filename)
		}
	}
	return out
}

// fakeRender scripts the render API.
type fakeRender struct {
	mu          sync.Mutex
	authErr     error
	submitErr   error
	jobURL      string
	statuses    []model.StatusDocument
	statusErrAt int
	statusCalls int
	submitted   *model.RenderJobDocument
}

func (f *fakeRender) Authenticate(ctx context.Context) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return "tok", nil
}

func (f *fakeRender) Submit(ctx context.Context, token string, doc *model.RenderJobDocument) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = doc
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.jobURL == "" {
		return "https://render.example/jobs/1", nil
	}
	return f.jobURL, nil
}

func (f *fakeRender) Status(ctx context.Context, token, jobURL string) (*model.StatusDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErrAt > 0 && f.statusCalls == f.statusErrAt {
		return nil, fmt.Errorf("connection reset")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := f.statusCalls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	doc := f.statuses[idx]
	return &doc, nil
}

func (f *fakeRender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func status(s string) model.StatusDocument {
	return model.StatusDocument{Status: s}
}

// recorder captures observer events in order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress map[string][]int
}

func newRecorder() *recorder {
	return &recorder{progress: make(map[string][]int)}
}

func (r *recorder) StageChanged(runID string, st model.StageState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(st.Stage)+":"+string(st.Status))
}

func (r *recorder) UploadProgress(runID, fileName string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[fileName] = append(r.progress[fileName], percent)
}

func (r *recorder) indexOf(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == event {
			return i
		}
	}
	return -1
}

func writeTempFile(t *testing.T, name string, size int) *model.LocalFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	data := []byte(strings.Repeat("x", size))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return &model.LocalFile{Path: path, Name: name, Size: int64(size), ContentType: "image/png"}
}

func strPtr(s string) *string { return &s }

// cardTree is Card(group) > Title(text), Photo(smartobject).
func cardTree() []model.LayerNode {
	return []model.LayerNode{{
		ID: 1, Name: "Card", Type: model.LayerTypeGroup, Visible: true,
		Children: []model.LayerNode{
			{ID: 2, Name: "Title", Type: model.LayerTypeText, Visible: true, Text: strPtr("Old Title")},
			{ID: 3, Name: "Photo", Type: model.LayerTypeSmartObject, Visible: true},
		},
	}}
}
