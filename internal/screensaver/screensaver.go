// Package screensaver manages the images shown while the dashboard is idle.
package screensaver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"homedash/internal/config"
	appLog "homedash/internal/log"
)

// URLPrefix is where the web server exposes the image directory.
const URLPrefix = "/static/screensaver/"

const (
	downloadTimeout = 10 * time.Second
	maxImageBytes   = 20 << 20
)

var (
	// ErrUnsupportedType marks a file that is not an allowed image.
	ErrUnsupportedType = errors.New("screensaver: unsupported image type")
	// ErrNoActiveImage is returned by Pick when nothing is active.
	ErrNoActiveImage = errors.New("screensaver: no active image")
)

var allowedExt = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "avif": true,
}

// HTTPDoer is the subset of *http.Client used for downloads.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service keeps image files in a directory and their list in the config
// store.
type Service struct {
	dir    string
	store  *config.Store
	client HTTPDoer
	intn   func(n int) int
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the download client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// WithRand replaces the random index source used by Pick.
func WithRand(intn func(n int) int) Option {
	return func(s *Service) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// New creates dir if needed.
func New(dir string, store *config.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("screensaver: config store is nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Service{
		dir:    dir,
		store:  store,
		client: &http.Client{Timeout: downloadTimeout},
		intn:   rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the image directory.
func (s *Service) Dir() string { return s.dir }

// List returns the configured images.
func (s *Service) List() []config.ScreensaverImage {
	return s.store.Snapshot().Config.Screensaver
}

// Upload stores an uploaded image. A filename that is already known is
// left untouched and reported with added=false.
func (s *Service) Upload(filename string, r io.Reader) (name string, added bool, err error) {
	name = SecureFilename(filename)
	if !allowed(name) {
		return "", false, fmt.Errorf("%w: %q", ErrUnsupportedType, filename)
	}
	return s.add(name, r)
}

// Download fetches an image from rawURL. The response must be image/*; the
// name comes from the URL path, or is generated when the path has none.
func (s *Service) Download(ctx context.Context, rawURL string) (name string, added bool, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false, fmt.Errorf("screensaver: invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("screensaver: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", false, fmt.Errorf("screensaver: download: unexpected status %s", resp.Status)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		return "", false, fmt.Errorf("%w: content type %q", ErrUnsupportedType, mediaType)
	}

	name = SecureFilename(path.Base(u.Path))
	if name == "" || name == "." {
		name = "downloaded_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".jpg"
	}
	if !allowed(name) {
		ext := strings.TrimPrefix(mediaType, "image/")
		switch ext {
		case "jpeg", "jpg", "png", "gif", "webp":
		default:
			ext = "jpg"
		}
		name = strings.TrimSuffix(name, filepath.Ext(name)) + "." + ext
	}
	return s.add(name, resp.Body)
}

func (s *Service) add(name string, r io.Reader) (string, bool, error) {
	for _, img := range s.List() {
		if img.Filename == name {
			return name, false, nil
		}
	}

	data, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return "", false, err
	}
	if len(data) > maxImageBytes {
		return "", false, fmt.Errorf("screensaver: image larger than %d bytes", maxImageBytes)
	}
	dst := filepath.Join(s.dir, name)
	if err := config.WriteFileAtomic(dst, data, 0o644); err != nil {
		return "", false, err
	}

	added := false
	_, err = s.store.Update(func(c *config.Config) error {
		added = c.AddScreensaver(name)
		return nil
	})
	if err != nil {
		_ = os.Remove(dst)
		return "", false, err
	}
	appLog.Info("screensaver image added", "filename", name, "bytes", len(data))
	return name, added, nil
}

// Delete removes the file and its config entry.
func (s *Service) Delete(filename string) error {
	name := SecureFilename(filename)
	if name == "" {
		return fmt.Errorf("screensaver %q: %w", filename, config.ErrNotFound)
	}
	if _, err := s.store.Update(func(c *config.Config) error {
		return c.RemoveScreensaver(name)
	}); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SetActive marks exactly the named images active.
func (s *Service) SetActive(filenames []string) error {
	_, err := s.store.Update(func(c *config.Config) error {
		c.SetActiveScreensavers(filenames)
		return nil
	})
	return err
}

// Pick returns the URL of a random active image.
func (s *Service) Pick() (string, error) {
	active := s.store.Snapshot().Config.ActiveScreensavers()
	if len(active) == 0 {
		return "", ErrNoActiveImage
	}
	return URLPrefix + url.PathEscape(active[s.intn(len(active))]), nil
}

func allowed(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return allowedExt[ext]
}

// SecureFilename reduces name to ASCII letters, digits, '.', '_' and '-',
// with path separators and whitespace turned into '_'. Leading and trailing
// dots and underscores are dropped.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	var b strings.Builder
	for _, field := range strings.Fields(name) {
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		for _, r := range field {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
				b.WriteRune(r)
			}
		}
	}
	return strings.Trim(b.String(), "._")
}
