package signature

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"testing"

	"github.com/docpipe/docscan/pdf"
)

func whitePage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

// drawScrawl paints a signature-like squiggle: a few overlapping sine strokes.
func drawScrawl(img *image.RGBA, x0, y0, width int) {
	for stroke := 0; stroke < 3; stroke++ {
		phase := float64(stroke) * 1.3
		for x := 0; x < width; x++ {
			y := y0 + int(14*math.Sin(float64(x)/18+phase)) + stroke*2
			for t := -1; t <= 1; t++ {
				img.Set(x0+x, y+t, color.Black)
			}
		}
	}
}

func drawRule(img *image.RGBA, y int) {
	b := img.Bounds()
	for x := b.Min.X + 4; x < b.Max.X-4; x++ {
		img.Set(x, y, color.Black)
		img.Set(x, y+1, color.Black)
	}
}

func testPage() *pdf.Page {
	return &pdf.Page{Number: 1, MediaBox: pdf.Rect{X1: 612, Y1: 792}}
}

func TestScanPageFindsScrawl(t *testing.T) {
	img := whitePage(800, 600)
	drawScrawl(img, 200, 520, 240) // inside the bottom band

	details := scanPage(img, testPage(), 1)
	if len(details) == 0 {
		t.Fatalf("expected a wet-signature candidate")
	}
	d := details[0]
	if d.PageNo != 1 {
		t.Fatalf("page no: %d", d.PageNo)
	}
	if d.Confidence <= 0.4 {
		t.Fatalf("scrawl should score above the floor, got %v", d.Confidence)
	}
	if d.InkRatio <= 0 || d.InkRatio > 0.45 {
		t.Fatalf("ink ratio out of range: %v", d.InkRatio)
	}
	if d.BBox[2] <= d.BBox[0] || d.BBox[3] <= d.BBox[1] {
		t.Fatalf("degenerate bbox: %v", d.BBox)
	}
}

func TestScanPageIgnoresBlankAndRules(t *testing.T) {
	if got := scanPage(whitePage(800, 600), testPage(), 1); len(got) != 0 {
		t.Fatalf("blank page: %+v", got)
	}

	ruled := whitePage(800, 600)
	drawRule(ruled, 560)
	if got := scanPage(ruled, testPage(), 1); len(got) != 0 {
		t.Fatalf("full-width rule should be rejected: %+v", got)
	}

	dotted := whitePage(800, 600)
	dotted.Set(400, 550, color.Black)
	dotted.Set(401, 550, color.Black)
	if got := scanPage(dotted, testPage(), 1); len(got) != 0 {
		t.Fatalf("specks should be rejected: %+v", got)
	}
}

func TestScanPageIgnoresTopOfPage(t *testing.T) {
	img := whitePage(800, 600)
	drawScrawl(img, 200, 100, 240) // headline area, above the band

	if got := scanPage(img, testPage(), 1); len(got) != 0 {
		t.Fatalf("ink above the band should be ignored: %+v", got)
	}
}

func TestWetScannerUsesPrerenderedPages(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>\nendobj\n")
	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)

	doc, err := pdf.Open(context.Background(), buf.Bytes(), pdf.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	img := whitePage(800, 600)
	drawScrawl(img, 180, 530, 260)
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// no renderer configured: only the pre-rendered page can be inspected
	s := &WetScanner{}
	got := s.Scan(context.Background(), doc, buf.Bytes(), map[int][]byte{0: pngBuf.Bytes()})
	if got.Detected != len(got.Details) || got.Detected == 0 {
		t.Fatalf("expected a finding count, got %d with %d details", got.Detected, len(got.Details))
	}
	if got.Details[0].PageNo != 1 {
		t.Fatalf("page no: %d", got.Details[0].PageNo)
	}
}
