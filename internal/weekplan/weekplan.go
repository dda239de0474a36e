// Package weekplan stores uploaded weekly plan PDFs and the PNG pages the
// dashboard shows for them.
package weekplan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"homedash/internal/config"
	appLog "homedash/internal/log"
)

// ImageURLPrefix is where the web server exposes ImageDir.
const ImageURLPrefix = "/static/images/"

// maxPDFBytes caps an uploaded plan.
const maxPDFBytes = 50 << 20

// Plan is one entry of the week plan listing.
type Plan struct {
	Key           string `json:"key"`
	Name          string `json:"name"`
	Icon          string `json:"icon"`
	LastUpdateISO string `json:"last_update_iso"`
	// ImgURL is the page chosen for the "all" view.
	ImgURL   string `json:"img_url"`
	ImgURL2  string `json:"img_url2"`
	Page1URL string `json:"page1_url"`
	Page2URL string `json:"page2_url"`
}

// Service handles plan uploads and listing.
type Service struct {
	uploadDir string
	imageDir  string
	statePath string
	raster    Rasterizer
	now       func() time.Time

	mu      sync.Mutex
	updates map[string]time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the directories under dataDir and loads the last-update state.
//
//	<dataDir>/uploads/<key>.pdf
//	<dataDir>/static/images/<key>-ukeplan.png, <key>-ukeplan-2.png
//	<dataDir>/last_updates.yaml
func New(dataDir string, r Rasterizer, opts ...Option) (*Service, error) {
	if r == nil {
		return nil, errors.New("weekplan: rasterizer is nil")
	}
	s := &Service{
		uploadDir: filepath.Join(dataDir, "uploads"),
		imageDir:  ImageDir(dataDir),
		statePath: filepath.Join(dataDir, "last_updates.yaml"),
		raster:    r,
		now:       time.Now,
		updates:   map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{s.uploadDir, s.imageDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

// ImageDir returns where page images are written for dataDir.
func ImageDir(dataDir string) string {
	return filepath.Join(dataDir, "static", "images")
}

func page1Name(key string) string { return key + "-ukeplan.png" }
func page2Name(key string) string { return key + "-ukeplan-2.png" }

// Upload stores the PDF for key and renders its first two pages. A PDF with
// a single page removes any stale second page. It returns the number of
// pages rendered.
func (s *Service) Upload(ctx context.Context, key string, pdf io.Reader) (int, error) {
	if !validKey(key) {
		return 0, fmt.Errorf("weekplan: invalid plan key %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pdfPath := filepath.Join(s.uploadDir, key+".pdf")
	if err := writeUpload(pdfPath, pdf); err != nil {
		return 0, err
	}

	if err := s.raster.RasterizePage(ctx, pdfPath, 1, filepath.Join(s.imageDir, page1Name(key))); err != nil {
		return 0, fmt.Errorf("weekplan: render page 1: %w", err)
	}

	pages := 1
	page2 := filepath.Join(s.imageDir, page2Name(key))
	switch err := s.raster.RasterizePage(ctx, pdfPath, 2, page2); {
	case err == nil:
		pages = 2
	case errors.Is(err, ErrNoSuchPage):
		if rmErr := os.Remove(page2); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			appLog.Warn("weekplan: remove stale page 2", "key", key, "err", rmErr)
		}
	default:
		appLog.Error("weekplan: render page 2", err, "key", key)
	}

	s.updates[key] = s.now()
	if err := s.saveState(); err != nil {
		return pages, err
	}

	appLog.Info("weekplan uploaded", "key", key, "pages", pages)
	return pages, nil
}

// LastUpdate returns when key was last uploaded.
func (s *Service) LastUpdate(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.updates[key]
	return t, ok
}

// List describes every configured plan. URLs carry ?v=<unix> of the last
// update so browsers reload replaced images.
func (s *Service) List(plans []config.WeekPlan) []Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		var ts int64
		lastISO := ""
		if t, ok := s.updates[p.Key]; ok {
			ts = t.Unix()
			lastISO = t.Format(time.RFC3339)
		}
		v := "?v=" + strconv.FormatInt(ts, 10)

		page1 := ImageURLPrefix + page1Name(p.Key) + v
		page2 := ""
		if _, err := os.Stat(filepath.Join(s.imageDir, page2Name(p.Key))); err == nil {
			page2 = ImageURLPrefix + page2Name(p.Key) + v
		}

		img := page1
		if p.DisplayPage == 2 && page2 != "" {
			img = page2
		}

		name := p.Name
		if name == "" {
			name = p.Key
		}
		out = append(out, Plan{
			Key:           p.Key,
			Name:          name,
			Icon:          p.Icon,
			LastUpdateISO: lastISO,
			ImgURL:        img,
			ImgURL2:       page2,
			Page1URL:      page1,
			Page2URL:      page2,
		})
	}
	return out
}

func writeUpload(path string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxPDFBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxPDFBytes {
		return fmt.Errorf("weekplan: pdf larger than %d bytes", maxPDFBytes)
	}
	if len(data) == 0 {
		return errors.New("weekplan: empty pdf")
	}
	return config.WriteFileAtomic(path, data, 0o644)
}

func (s *Service) loadState() error {
	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		appLog.Warn("weekplan: ignoring unreadable state file", "path", s.statePath, "err", err)
		return nil
	}
	for key, v := range raw {
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			continue
		}
		s.updates[key] = t
	}
	return nil
}

func (s *Service) saveState() error {
	raw := make(map[string]string, len(s.updates))
	for key, t := range s.updates {
		raw[key] = t.Format(time.RFC3339)
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(s.statePath, data, 0o644)
}

func validKey(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
