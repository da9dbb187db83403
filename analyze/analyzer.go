// Package analyze orchestrates the full document pipeline: parse, per-page
// text extraction with OCR fallback, table detection, signature checks, and
// report caching.
package analyze

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docpipe/docscan/audit"
	"github.com/docpipe/docscan/extract"
	"github.com/docpipe/docscan/logging"
	"github.com/docpipe/docscan/metrics"
	"github.com/docpipe/docscan/ocr"
	"github.com/docpipe/docscan/pdf"
	"github.com/docpipe/docscan/signature"
	"github.com/docpipe/docscan/store"
)

// ReportStore is the slice of the report cache the analyzer needs.
type ReportStore interface {
	GetReport(hash string) ([]byte, error)
	PutReport(hash string, body []byte) error
}

// PageRenderer rasterizes single pages to PNG. *render.Renderer satisfies it.
type PageRenderer interface {
	Available() bool
	Page(ctx context.Context, pdfData []byte, page, dpi int) ([]byte, error)
}

// Options tune one analysis call.
type Options struct {
	// ThresholdChars is the native-text length below which a page is OCRed.
	// Negative means the analyzer default.
	ThresholdChars int
	// Languages override the analyzer's OCR language hints when non-empty.
	Languages []string
	// DisableOCR skips the OCR fallback entirely.
	DisableOCR bool
	// RequestID tags the audit event for this call.
	RequestID string
}

// Analyzer runs analyses. All collaborator fields are optional; a zero
// Analyzer parses and extracts but never OCRs, caches or audits.
type Analyzer struct {
	Store    ReportStore
	Audit    audit.Sink
	Renderer PageRenderer
	Engine   ocr.Engine // nil means the registered default
	Wet      *signature.WetScanner
	Log      *zap.SugaredLogger

	OCREnabled     bool
	Languages      []string
	// ThresholdChars, when positive, replaces the 800 default. An explicit
	// zero threshold is expressed per call through Options.
	ThresholdChars int
	DPI            int // default 144
	OCRTimeout     time.Duration
	Workers        int // page pipeline width, default 4
	ParseLimits    pdf.Limits
}

func (a *Analyzer) log() *zap.SugaredLogger {
	if a.Log != nil {
		return a.Log
	}
	return logging.Nop()
}

func (a *Analyzer) engine() ocr.Engine {
	if a.Engine != nil {
		return a.Engine
	}
	return ocr.DefaultEngine()
}

func (a *Analyzer) threshold(opts Options) int {
	if opts.ThresholdChars >= 0 {
		return opts.ThresholdChars
	}
	if a.ThresholdChars > 0 {
		return a.ThresholdChars
	}
	return 800
}

func (a *Analyzer) dpi() int {
	if a.DPI > 0 {
		return a.DPI
	}
	return 144
}

func (a *Analyzer) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return 4
}

// Analyze produces a report for the raw PDF bytes. A cached report is
// returned as-is with Cached set; a parse failure is the only hard error.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, opts Options) (*Report, error) {
	start := time.Now()
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if rep := a.cached(hash); rep != nil {
		a.emitAudit(rep, opts.RequestID, 0, time.Since(start))
		return rep, nil
	}

	parseStart := time.Now()
	doc, err := pdf.Open(ctx, data, pdf.Options{Limits: a.ParseLimits})
	if err != nil {
		metrics.RecordAnalysis("error", time.Since(start), 0)
		if a.Audit != nil {
			a.Audit.Record(audit.Event{
				Time:       time.Now().UTC(),
				RequestID:  opts.RequestID,
				FileHash:   hash,
				Status:     "error",
				DurationMS: time.Since(start).Milliseconds(),
			})
		}
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	parseDur := time.Since(parseStart)

	rep := &Report{
		Status:   "ok",
		FileHash: hash,
		Document: DocumentInfo{
			Pages:     doc.PageCount(),
			Version:   doc.Version(),
			Encrypted: doc.Encrypted(),
			Metadata:  metadataFrom(doc.Metadata()),
			Warnings:  warningsOf(doc),
		},
	}

	extractStart := time.Now()
	pages, tables, rendered, ocrDur, ocrPages := a.extractPages(ctx, doc, data, opts)
	rep.Extraction = Extraction{Pages: pages, Tables: tables}
	extractDur := time.Since(extractStart) - ocrDur
	if extractDur < 0 {
		extractDur = 0
	}

	sigStart := time.Now()
	rep.Signatures.Digital = signature.DetectDigital(ctx, doc, data)
	rep.Signatures.Wet = signature.Wet{Details: []signature.WetDetail{}}
	if a.Wet != nil {
		rep.Signatures.Wet = a.Wet.Scan(ctx, doc, data, rendered)
	}
	sigDur := time.Since(sigStart)

	total := time.Since(start)
	rep.TimingsMS = Timings{
		Parse:      parseDur.Milliseconds(),
		Extract:    extractDur.Milliseconds(),
		OCR:        ocrDur.Milliseconds(),
		Signatures: sigDur.Milliseconds(),
		Total:      total.Milliseconds(),
	}

	a.persist(hash, rep)
	metrics.RecordAnalysis("ok", total, ocrPages)
	a.emitAudit(rep, opts.RequestID, ocrPages, total)
	return rep, nil
}

// cached returns the stored report for hash, marked Cached, or nil.
func (a *Analyzer) cached(hash string) *Report {
	if a.Store == nil {
		return nil
	}
	body, err := a.Store.GetReport(hash)
	switch {
	case err == nil:
		var rep Report
		if err := json.Unmarshal(body, &rep); err != nil {
			a.log().Warnw("cached report unreadable, re-analyzing", "file_hash", hash, "error", err)
			return nil
		}
		metrics.RecordCacheLookup(true)
		rep.Cached = true
		return &rep
	case errors.Is(err, store.ErrNotFound):
		metrics.RecordCacheLookup(false)
	default:
		a.log().Warnw("report cache lookup failed", "file_hash", hash, "error", err)
	}
	return nil
}

func (a *Analyzer) persist(hash string, rep *Report) {
	if a.Store == nil {
		return
	}
	body, err := json.Marshal(rep)
	if err != nil {
		a.log().Errorw("report not serializable", "file_hash", hash, "error", err)
		return
	}
	if err := a.Store.PutReport(hash, body); err != nil {
		a.log().Warnw("report cache write failed", "file_hash", hash, "error", err)
	}
}

func (a *Analyzer) emitAudit(rep *Report, requestID string, ocrPages int, total time.Duration) {
	if a.Audit == nil {
		return
	}
	a.Audit.Record(audit.Event{
		Time:              time.Now().UTC(),
		RequestID:         requestID,
		FileHash:          rep.FileHash,
		Status:            rep.Status,
		Pages:             rep.Document.Pages,
		OCRPages:          ocrPages,
		DigitalSignatures: rep.Signatures.Digital.Detected == 1,
		WetSignatures:     rep.Signatures.Wet.Detected > 0,
		Cached:            rep.Cached,
		DurationMS:        total.Milliseconds(),
	})
}

type pageResult struct {
	page   PageText
	tables []Table
	png    []byte // rendered page, when OCR ran
	ocrDur time.Duration
	ocred  bool
}

// extractPages runs the per-page pipeline over a bounded worker pool,
// preserving page order in the result.
func (a *Analyzer) extractPages(ctx context.Context, doc *pdf.Document, data []byte, opts Options) ([]PageText, []Table, map[int][]byte, time.Duration, int) {
	n := doc.PageCount()
	results := make([]pageResult, n)

	ocrUsable := a.OCREnabled && !opts.DisableOCR && a.Renderer != nil && a.Renderer.Available()
	threshold := a.threshold(opts)
	langs := a.Languages
	if len(opts.Languages) > 0 {
		langs = opts.Languages
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < a.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = a.analyzePage(ctx, doc, data, i, threshold, langs, ocrUsable)
			}
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(indexes)
	wg.Wait()

	pages := make([]PageText, 0, n)
	tables := make([]Table, 0)
	rendered := make(map[int][]byte)
	var ocrDur time.Duration
	ocrPages := 0
	for i, r := range results {
		if r.page.PageNo == 0 {
			// page skipped by cancellation
			r.page = PageText{PageNo: i + 1, Text: "", Source: "native"}
		}
		pages = append(pages, r.page)
		tables = append(tables, r.tables...)
		if r.png != nil {
			rendered[i] = r.png
		}
		ocrDur += r.ocrDur
		if r.ocred {
			ocrPages++
		}
	}
	return pages, tables, rendered, ocrDur, ocrPages
}

// analyzePage extracts one page: native text, OCR when the native text is
// shorter than the threshold, and table detection. The longer of the two
// texts wins.
func (a *Analyzer) analyzePage(ctx context.Context, doc *pdf.Document, data []byte, i, threshold int, langs []string, ocrUsable bool) pageResult {
	res := pageResult{}

	native, err := extract.PageText(ctx, doc, i)
	if err != nil {
		if !errors.Is(err, pdf.ErrEncrypted) {
			a.log().Debugw("native extraction failed", "page", i+1, "error", err)
		}
		native = ""
	}

	text, source := native, "native"
	if ocrUsable && utf8.RuneCountInString(strings.TrimSpace(native)) < threshold {
		ocrText, png, dur, ok := a.ocrPage(ctx, data, i, langs)
		res.png = png
		res.ocrDur = dur
		if ok {
			res.ocred = true
			if utf8.RuneCountInString(strings.TrimSpace(ocrText)) > utf8.RuneCountInString(strings.TrimSpace(native)) {
				text, source = ocrText, "ocr"
			}
		}
	}

	res.page = PageText{
		PageNo: i + 1,
		Text:   text,
		Source: source,
		Chars:  utf8.RuneCountInString(text),
	}

	if pageTables, err := extract.Tables(ctx, doc, i); err == nil {
		for _, t := range pageTables {
			res.tables = append(res.tables, tableFrom(t))
		}
	}
	return res
}

// ocrPage renders page i and runs it through the OCR engine. Failures leave
// the native text in place.
func (a *Analyzer) ocrPage(ctx context.Context, data []byte, i int, langs []string) (string, []byte, time.Duration, bool) {
	start := time.Now()
	png, err := a.Renderer.Page(ctx, data, i+1, a.dpi())
	if err != nil {
		a.log().Debugw("page render failed", "page", i+1, "error", err)
		return "", nil, time.Since(start), false
	}

	ocrCtx := ctx
	if a.OCRTimeout > 0 {
		var cancel context.CancelFunc
		ocrCtx, cancel = context.WithTimeout(ctx, a.OCRTimeout)
		defer cancel()
	}
	result, err := a.engine().Recognize(ocrCtx, ocr.Input{
		ID:        fmt.Sprintf("page-%d", i+1),
		Image:     png,
		Format:    ocr.ImageFormatPNG,
		PageIndex: i,
		DPI:       a.dpi(),
		Languages: langs,
	})
	if err != nil {
		a.log().Debugw("ocr failed", "page", i+1, "error", err)
		return "", png, time.Since(start), false
	}
	return extract.Clean(result.PlainText), png, time.Since(start), true
}

func warningsOf(doc *pdf.Document) []string {
	w := doc.Warnings()
	if w == nil {
		return []string{}
	}
	return w
}
