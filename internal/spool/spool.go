// Package spool stages uploaded smart-object files on local disk until a run consumes them.
package spool

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assetgen/api/internal/model"
)

// Spool is a directory of per-request batches.
type Spool struct {
	dir string
}

func New(dir string) *Spool {
	return &Spool{dir: dir}
}

func (s *Spool) Dir() string {
	return s.dir
}

// Batch is one request's staging directory.
type Batch struct {
	dir string
}

// NewBatch creates an empty staging directory.
func (s *Spool) NewBatch() (*Batch, error) {
	dir := filepath.Join(s.dir, uuid.New().String())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create spool batch: %w", err)
	}
	return &Batch{dir: dir}, nil
}

// Add writes r to the batch as the file for layerID.
func (b *Batch) Add(layerID int, name, contentType string, r io.Reader) (*model.LocalFile, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "file"
	}
	path := filepath.Join(b.dir, fmt.Sprintf("%d_%s", layerID, base))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write spool file: %w", err)
	}

	return &model.LocalFile{
		Path:        path,
		Name:        base,
		Size:        n,
		ContentType: contentType,
	}, nil
}

// Discard removes the batch and everything in it.
func (b *Batch) Discard() {
	if err := os.RemoveAll(b.dir); err != nil {
		log.Printf("[Spool] failed to discard %s: %v", b.dir, err)
	}
}

// Release removes the batch directories holding files. Paths outside the spool are left alone.
func (s *Spool) Release(files map[int]*model.LocalFile) {
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return
	}
	seen := make(map[string]bool)
	for _, f := range files {
		if f == nil {
			continue
		}
		dir, err := filepath.Abs(filepath.Dir(f.Path))
		if err != nil || seen[dir] {
			continue
		}
		seen[dir] = true
		if rel, err := filepath.Rel(root, dir); err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[Spool] failed to release %s: %v", dir, err)
		}
	}
}

// Sweep removes batches last modified before now-maxAge and returns how many were removed.
func (s *Spool) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read spool dir: %w", err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			log.Printf("[Spool] failed to remove %s: %v", e.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
