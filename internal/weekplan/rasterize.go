package weekplan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoSuchPage is returned when the PDF has fewer pages than requested.
var ErrNoSuchPage = errors.New("weekplan: page out of range")

// Rasterizer renders a single PDF page to a PNG file.
type Rasterizer interface {
	RasterizePage(ctx context.Context, pdfPath string, page int, dstPNG string) error
}

// Pdftoppm shells out to poppler's pdftoppm.
type Pdftoppm struct {
	// Binary defaults to "pdftoppm" on PATH.
	Binary string
	// DPI defaults to 150.
	DPI int
}

// RasterizePage renders page (1-based) of pdfPath into dstPNG. The output is
// written next to dstPNG and renamed into place.
func (p Pdftoppm) RasterizePage(ctx context.Context, pdfPath string, page int, dstPNG string) error {
	if page < 1 {
		return fmt.Errorf("weekplan: invalid page %d", page)
	}
	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 150
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dstPNG), ".raster-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	// -singlefile writes <prefix>.png without a page suffix.
	prefix := filepath.Join(tmp, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, bin,
		"-png", "-r", strconv.Itoa(dpi),
		"-f", n, "-l", n,
		"-singlefile",
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "Wrong page range") {
			return fmt.Errorf("%w: %s", ErrNoSuchPage, msg)
		}
		return fmt.Errorf("pdftoppm page %d: %w: %s", page, err, msg)
	}

	return os.Rename(prefix+".png", dstPNG)
}
