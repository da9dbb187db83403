// Package render rasterizes PDF pages by shelling out to Poppler's pdftoppm,
// which the service image installs alongside Tesseract.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// DefaultBin is the Poppler rasterizer resolved on PATH.
const DefaultBin = "pdftoppm"

// Renderer rasterizes single pages of an in-memory PDF to PNG.
type Renderer struct {
	// Bin is the pdftoppm binary; empty means DefaultBin.
	Bin string
	// Timeout bounds a single render call. Zero means 30s.
	Timeout time.Duration
}

func (r *Renderer) bin() string {
	if r.Bin != "" {
		return r.Bin
	}
	return DefaultBin
}

func (r *Renderer) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 30 * time.Second
}

// Available reports whether the rasterizer binary resolves on PATH. The
// pipeline degrades to native-only extraction when it does not.
func (r *Renderer) Available() bool {
	_, err := exec.LookPath(r.bin())
	return err == nil
}

// Page renders page (1-based) of the document at the given DPI and returns
// PNG bytes.
func (r *Renderer) Page(ctx context.Context, pdfData []byte, page, dpi int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("render: page %d out of range", page)
	}
	if dpi <= 0 {
		dpi = 144
	}

	dir, err := os.MkdirTemp("", "docscan-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("render: write input: %w", err)
	}
	outPrefix := filepath.Join(dir, "page")

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin(),
		"-png",
		"-r", fmt.Sprint(dpi),
		"-f", fmt.Sprint(page),
		"-l", fmt.Sprint(page),
		"-singlefile",
		src, outPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render: %w", ctx.Err())
		}
		return nil, fmt.Errorf("render: %s: %v: %s", r.bin(), err, firstLine(out))
	}

	png, err := os.ReadFile(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("render: read output: %w", err)
	}
	return png, nil
}

func firstLine(out []byte) string {
	for i, c := range out {
		if c == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}
