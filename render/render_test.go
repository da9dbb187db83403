package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os/exec"
	"testing"
)

func ensurePopplerAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultBin); err != nil {
		t.Skip("pdftoppm not installed in PATH")
	}
}

// minimalPDF is a one-page document with no content, enough for pdftoppm.
func minimalPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] >>\nendobj\n")
	xref := buf.Len()
	fmt.Fprintf(buf, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

func TestRendererPage(t *testing.T) {
	ensurePopplerAvailable(t)

	r := &Renderer{}
	data, err := r.Page(context.Background(), minimalPDF(), 1, 72)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not decodable PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Fatalf("empty image: %v", img.Bounds())
	}
}

func TestRendererRejectsBadPage(t *testing.T) {
	r := &Renderer{}
	if _, err := r.Page(context.Background(), minimalPDF(), 0, 72); err == nil {
		t.Fatalf("expected page range error")
	}
}

func TestRendererAvailable(t *testing.T) {
	missing := &Renderer{Bin: "definitely-not-a-binary"}
	if missing.Available() {
		t.Fatalf("bogus binary should not resolve")
	}
}
