package analyze

import (
	"github.com/docpipe/docscan/extract"
	"github.com/docpipe/docscan/pdf"
	"github.com/docpipe/docscan/signature"
)

// Report is the analysis result as it goes over the wire.
type Report struct {
	Status     string       `json:"status"`
	FileHash   string       `json:"file_hash"`
	Document   DocumentInfo `json:"document"`
	Extraction Extraction   `json:"extraction"`
	Signatures Signatures   `json:"signatures"`
	TimingsMS  Timings      `json:"timings_ms"`
	// Cached marks reports served from the store.
	Cached bool `json:"cached,omitempty"`
}

// DocumentInfo summarizes the parsed document.
type DocumentInfo struct {
	Pages     int      `json:"pages"`
	Version   string   `json:"version"`
	Encrypted bool     `json:"encrypted"`
	Metadata  Metadata `json:"metadata"`
	Warnings  []string `json:"warnings"`
}

// Metadata mirrors the document /Info entries.
type Metadata struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Subject  string `json:"subject"`
	Keywords string `json:"keywords"`
	Creator  string `json:"creator"`
	Producer string `json:"producer"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

func metadataFrom(m pdf.Metadata) Metadata {
	return Metadata{
		Title:    m.Title,
		Author:   m.Author,
		Subject:  m.Subject,
		Keywords: m.Keywords,
		Creator:  m.Creator,
		Producer: m.Producer,
		Created:  m.Created,
		Modified: m.Modified,
	}
}

// Extraction carries per-page text and detected tables.
type Extraction struct {
	Pages  []PageText `json:"pages"`
	Tables []Table    `json:"tables"`
}

// PageText is the text of one page and where it came from.
type PageText struct {
	PageNo int    `json:"page_no"`
	Text   string `json:"text"`
	// Source is "native" or "ocr".
	Source string `json:"source"`
	Chars  int    `json:"chars"`
}

// Table is a detected grid on one page.
type Table struct {
	PageNo int        `json:"page_no"`
	Rows   [][]string `json:"rows"`
	Cols   int        `json:"cols"`
	BBox   [4]float64 `json:"bbox"`
}

func tableFrom(t extract.Table) Table {
	return Table{PageNo: t.PageNo, Rows: t.Rows, Cols: t.Cols, BBox: t.BBox}
}

// Signatures groups the digital and wet-ink findings.
type Signatures struct {
	Digital signature.Digital `json:"digital_signatures"`
	Wet     signature.Wet     `json:"wet_signature"`
}

// Timings are per-phase durations in milliseconds.
type Timings struct {
	Parse      int64 `json:"parse"`
	Extract    int64 `json:"extract"`
	OCR        int64 `json:"ocr"`
	Signatures int64 `json:"signatures"`
	Total      int64 `json:"total"`
}
