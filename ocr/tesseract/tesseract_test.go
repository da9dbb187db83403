package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/docpipe/docscan/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderSample(t *testing.T, text string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	in := ocr.Input{
		ID:     "page-0",
		Image:  renderSample(t, "Hello PDF"),
		Format: ocr.ImageFormatPNG,
	}
	ocr.WithLanguages("eng")(&in)
	ocr.WithDPI(300)(&in)

	res, err := NewEngine().Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	got := strings.ToLower(res.PlainText)
	if !strings.Contains(got, "hello") || !strings.Contains(got, "pdf") {
		t.Fatalf("unexpected OCR output: %q", res.PlainText)
	}
	if res.InputID != "page-0" {
		t.Fatalf("unexpected input id: %s", res.InputID)
	}
	if len(res.Words) == 0 {
		t.Fatalf("expected word boxes")
	}
}

func TestEngineBatchHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine().RecognizeBatch(ctx, []ocr.Input{{ID: "a"}})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
