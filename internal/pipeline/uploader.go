package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/model"
)

// ProgressFunc receives upload progress for one file, 0 to 100.
type ProgressFunc func(fileName string, percent int)

// Uploader moves local files into the object store through write-intent signed URLs.
type Uploader struct {
	signer     client.URLSigner
	httpClient *http.Client
	writeTTL   time.Duration
}

// NewUploader creates an uploader. A nil httpClient uses a client without a timeout,
// since transfers are bounded by file size rather than wall clock.
func NewUploader(signer client.URLSigner, httpClient *http.Client, writeTTL time.Duration) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Uploader{
		signer:     signer,
		httpClient: httpClient,
		writeTTL:   writeTTL,
	}
}

// DisplayName is the client-facing name of file.
func DisplayName(file *model.LocalFile) string {
	if file.Name != "" {
		return file.Name
	}
	return filepath.Base(file.Path)
}

// ProgressKey identifies the upload for layerID in progress reports, as
// "<layerId>_<name>". Two layers may carry files with the same name.
func ProgressKey(layerID int, file *model.LocalFile) string {
	return fmt.Sprintf("%d_%s", layerID, DisplayName(file))
}

// Upload writes file to destinationKey. Progress is reported in non-decreasing
// steps capped at 99 while bytes are in flight; a single 100 follows success.
func (u *Uploader) Upload(ctx context.Context, file *model.LocalFile, destinationKey string, onProgress ProgressFunc) error {
	name := DisplayName(file)

	signed, err := u.signer.SignURL(ctx, &model.SignedURLRequest{
		Filename:     destinationKey,
		ClientMethod: model.ClientMethodPut,
		ExpiresIn:    int(u.writeTTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPresign, destinationKey, err)
	}
	if signed == nil || (signed.URL == "" && !signed.IsRelay()) {
		return fmt.Errorf("%w: no upload URL returned for %s", ErrPresign, destinationKey)
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return &UploadError{FileName: name, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &UploadError{FileName: name, Err: err}
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	tracker := newProgressReader(f, info.Size(), name, onProgress)
	defer tracker.stop()

	var resp *http.Response
	if signed.IsRelay() {
		log.Printf("[Uploader] → relay %s (%s, %d bytes)", signed.UploadURL, name, info.Size())
		resp, err = u.postRelay(ctx, signed, tracker, name, contentType)
	} else {
		log.Printf("[Uploader] → PUT %s (%d bytes)", destinationKey, info.Size())
		resp, err = u.put(ctx, signed.URL, tracker, info.Size(), contentType)
	}
	if err != nil {
		log.Printf("[Uploader] ✗ %s — %v", name, err)
		return &UploadError{FileName: name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("[Uploader] ✗ %s — status %d", name, resp.StatusCode)
		return &UploadError{FileName: name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	log.Printf("[Uploader] ← %d %s", resp.StatusCode, name)
	tracker.finish()
	return nil
}

func (u *Uploader) put(ctx context.Context, url string, body io.Reader, size int64, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if size == 0 {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	return u.httpClient.Do(req)
}

// postRelay streams a multipart form with presignedUrl and file fields to the relay.
func (u *Uploader) postRelay(ctx context.Context, signed *model.SignedURLResponse, body io.Reader, name, contentType string) (*http.Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("presignedUrl", signed.PresignedURL); err != nil {
				return err
			}
			if err := mw.WriteField("contentType", contentType); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, body); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signed.UploadURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return resp, nil
}

// progressReader reports read progress. Reports stop once the upload settles,
// even if the transport keeps reading the body.
type progressReader struct {
	r      io.Reader
	total  int64
	name   string
	report ProgressFunc

	mu      sync.Mutex
	read    int64
	last    int
	stopped bool
}

func newProgressReader(r io.Reader, total int64, name string, report ProgressFunc) *progressReader {
	p := &progressReader{r: r, total: total, name: name, report: report, last: -1}
	p.emit(0)
	return p
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.read += int64(n)
		read := p.read
		p.mu.Unlock()

		pct := 99
		if p.total > 0 {
			pct = int(read * 100 / p.total)
		}
		if pct > 99 {
			pct = 99
		}
		p.emit(pct)
	}
	return n, err
}

func (p *progressReader) emit(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || pct <= p.last {
		return
	}
	p.last = pct
	if p.report != nil {
		p.report(p.name, pct)
	}
}

func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.last = 100
	if p.report != nil {
		p.report(p.name, 100)
	}
}

func (p *progressReader) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}
