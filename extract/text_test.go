package extract

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/docpipe/docscan/pdf"
)

// buildPagePDF assembles a one-page document around a content stream. When
// toUnicode is non-empty it becomes the /ToUnicode CMap of font /F1.
func buildPagePDF(t *testing.T, content, toUnicode string) *pdf.Document {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")

	off4 := buf.Len()
	fmt.Fprintf(buf, "4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)

	off5 := buf.Len()
	if toUnicode != "" {
		buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /ToUnicode 6 0 R >>\nendobj\n")
	} else {
		buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	}

	off6 := buf.Len()
	count := 6
	if toUnicode != "" {
		fmt.Fprintf(buf, "6 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(toUnicode), toUnicode)
		count = 7
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(buf, "xref\n0 %d\n0000000000 65535 f \n", count)
	offs := []int{off1, off2, off3, off4, off5}
	if toUnicode != "" {
		offs = append(offs, off6)
	}
	for _, off := range offs {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", count, xrefOffset)

	doc, err := pdf.Open(context.Background(), buf.Bytes(), pdf.Options{})
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	return doc
}

func TestPageTextOrdersWordsAndLines(t *testing.T) {
	content := "BT /F1 12 Tf 200 700 Td (World) Tj ET " +
		"BT /F1 12 Tf 72 700 Td (Hello) Tj ET " +
		"BT /F1 12 Tf 72 600 Td (Below) Tj ET"
	doc := buildPagePDF(t, content, "")

	text, err := PageText(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Hello World\nBelow" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestTextMatrixPositioning(t *testing.T) {
	// Tm places the baseline directly; T* advances by the leading
	content := "BT /F1 12 Tf 14 TL 1 0 0 1 72 700 Tm (First) Tj T* (Second) Tj ET"
	doc := buildPagePDF(t, content, "")

	text, err := PageText(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "First\nSecond" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestTJKerningBecomesWordSpace(t *testing.T) {
	content := "BT /F1 12 Tf 72 700 Td [(Hel) -30 (lo) -250 (World)] TJ ET"
	doc := buildPagePDF(t, content, "")

	text, err := PageText(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Hello World" {
		t.Fatalf("unexpected text: %q", text)
	}
}

const sampleCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
1 begincodespacerange
<00> <FF>
endcodespacerange
1 beginbfchar
<01> <0048>
endbfchar
2 beginbfrange
<02> <03> <0065>
<04> <05> [<006C006C> <006F>]
endbfrange
endcmap
end
end`

func TestToUnicodeDecoding(t *testing.T) {
	content := "BT /F1 12 Tf 72 700 Td (\\001\\002\\004\\005) Tj ET"
	doc := buildPagePDF(t, content, sampleCMap)

	text, err := PageText(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Hello" {
		t.Fatalf("expected cmap-decoded text, got %q", text)
	}
}

func TestCMapDecodeMultiByte(t *testing.T) {
	cm := &toUnicodeMap{
		entries: map[string]string{"\x00\x41": "A", "\x00\x42": "B"},
		lengths: []int{2},
	}
	if got := cm.decode([]byte{0x00, 0x41, 0x00, 0x42}); got != "AB" {
		t.Fatalf("expected AB, got %q", got)
	}
	// unmapped codes are skipped at the declared width
	if got := cm.decode([]byte{0x00, 0x99, 0x00, 0x42}); got != "B" {
		t.Fatalf("expected B, got %q", got)
	}
}

func TestClean(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a\r\nb", "a\n\nb"},
		{"a\rb", "a\nb"},
		{"a\r\n\r\nb", "a\n\nb"},
		{"a  \t  b", "a b"},
		{"a\n\n\n\n\nb", "a\n\nb"},
		{"  padded  ", "padded"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Clean(tc.in); got != tc.want {
			t.Fatalf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTablesDetectsAlignedGrid(t *testing.T) {
	row := func(y int, a, b string) string {
		return fmt.Sprintf("BT /F1 10 Tf 72 %d Td (%s) Tj ET BT /F1 10 Tf 300 %d Td (%s) Tj ET ", y, a, y, b)
	}
	content := row(700, "Name", "Qty") + row(680, "Apples", "5") + row(660, "Pears", "7")
	doc := buildPagePDF(t, content, "")

	tables, err := Tables(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	tb := tables[0]
	if tb.PageNo != 1 || tb.Cols != 2 || len(tb.Rows) != 3 {
		t.Fatalf("unexpected table shape: %+v", tb)
	}
	if tb.Rows[1][0] != "Apples" || tb.Rows[1][1] != "5" {
		t.Fatalf("unexpected cells: %v", tb.Rows)
	}
	if tb.BBox != [4]float64{0, 0, 612, 792} {
		t.Fatalf("bbox should be the page box, got %v", tb.BBox)
	}
}

func TestTablesRejectsUnalignedText(t *testing.T) {
	content := "BT /F1 10 Tf 72 700 Td (one) Tj ET BT /F1 10 Tf 150 700 Td (two) Tj ET " +
		"BT /F1 10 Tf 95 680 Td (three) Tj ET BT /F1 10 Tf 260 680 Td (four) Tj ET " +
		"BT /F1 10 Tf 120 660 Td (five) Tj ET BT /F1 10 Tf 330 660 Td (six) Tj ET"
	doc := buildPagePDF(t, content, "")

	tables, err := Tables(context.Background(), doc, 0)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("expected no tables, got %+v", tables)
	}
}
