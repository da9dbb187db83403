package analyze

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docscan/audit"
	"github.com/docpipe/docscan/ocr"
	"github.com/docpipe/docscan/store"
)

// buildFixturePDF assembles a one-page document whose only text is content's
// show operators.
func buildFixturePDF(t *testing.T, content string) []byte {
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
	buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for _, off := range []int{off1, off2, off3, off4, off5} {
		fmt.Fprintf(buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func helloPDF(t *testing.T) []byte {
	return buildFixturePDF(t, "BT /F1 12 Tf 72 720 Td (Hello World) Tj ET")
}

type fakeRenderer struct {
	mu        sync.Mutex
	calls     int
	err       error
	blockCtx  bool
	available bool
}

func (f *fakeRenderer) Available() bool { return f.available }

func (f *fakeRenderer) Page(ctx context.Context, _ []byte, page, dpi int) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("not-a-real-png"), nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(_ context.Context, input ocr.Input) (ocr.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return ocr.Result{}, f.err
	}
	return ocr.Result{InputID: input.ID, PlainText: f.text}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) GetReport(hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.data[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return body, nil
}

func (m *memStore) PutReport(hash string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = append([]byte(nil), body...)
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memSink) Record(e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memSink) Close() error { return nil }

func (m *memSink) all() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Event(nil), m.events...)
}

func TestAnalyzeNativeText(t *testing.T) {
	data := helloPDF(t)
	a := &Analyzer{}

	rep, err := a.Analyze(context.Background(), data, Options{ThresholdChars: 0})
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, hex.EncodeToString(sum[:]), rep.FileHash)
	assert.Equal(t, 1, rep.Document.Pages)
	assert.Equal(t, "1.7", rep.Document.Version)
	assert.False(t, rep.Document.Encrypted)

	require.Len(t, rep.Extraction.Pages, 1)
	page := rep.Extraction.Pages[0]
	assert.Equal(t, 1, page.PageNo)
	assert.Equal(t, "Hello World", page.Text)
	assert.Equal(t, "native", page.Source)
	assert.Equal(t, 11, page.Chars)

	assert.Zero(t, rep.Signatures.Digital.Detected)
	assert.Zero(t, rep.Signatures.Wet.Detected)
	assert.False(t, rep.Cached)
}

func TestAnalyzeOCRWinsWhenLonger(t *testing.T) {
	fr := &fakeRenderer{available: true}
	fe := &fakeEngine{text: "A much longer body of recognized text than the native layer has"}
	a := &Analyzer{OCREnabled: true, Renderer: fr, Engine: fe}

	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)

	page := rep.Extraction.Pages[0]
	assert.Equal(t, "ocr", page.Source)
	assert.Equal(t, fe.text, page.Text)
	assert.Equal(t, 1, fe.callCount())
	assert.Equal(t, 1, fr.callCount())
	assert.GreaterOrEqual(t, rep.TimingsMS.Total, int64(0))
}

func TestAnalyzeKeepsNativeWhenOCRShorter(t *testing.T) {
	fe := &fakeEngine{text: "ab"}
	a := &Analyzer{OCREnabled: true, Renderer: &fakeRenderer{available: true}, Engine: fe}

	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)

	page := rep.Extraction.Pages[0]
	assert.Equal(t, "native", page.Source)
	assert.Equal(t, "Hello World", page.Text)
	assert.Equal(t, 1, fe.callCount(), "OCR ran but lost")
}

func TestAnalyzeSkipsOCRAboveThreshold(t *testing.T) {
	fe := &fakeEngine{text: "should never run"}
	a := &Analyzer{OCREnabled: true, Renderer: &fakeRenderer{available: true}, Engine: fe}

	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 5})
	require.NoError(t, err)
	assert.Equal(t, "native", rep.Extraction.Pages[0].Source)
	assert.Zero(t, fe.callCount())
}

func TestAnalyzeZeroThresholdDisablesOCR(t *testing.T) {
	fe := &fakeEngine{text: "should never run"}
	a := &Analyzer{OCREnabled: true, Renderer: &fakeRenderer{available: true}, Engine: fe}

	// An explicit zero threshold means no native text is ever "too short".
	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 0})
	require.NoError(t, err)
	assert.Equal(t, "native", rep.Extraction.Pages[0].Source)
	assert.Zero(t, fe.callCount())
}

func TestAnalyzeDisableOCR(t *testing.T) {
	fe := &fakeEngine{text: "should never run"}
	a := &Analyzer{OCREnabled: true, Renderer: &fakeRenderer{available: true}, Engine: fe}

	_, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 1000, DisableOCR: true})
	require.NoError(t, err)
	assert.Zero(t, fe.callCount())
}

func TestAnalyzeOCRFailureKeepsNative(t *testing.T) {
	fe := &fakeEngine{err: fmt.Errorf("engine exploded")}
	a := &Analyzer{OCREnabled: true, Renderer: &fakeRenderer{available: true}, Engine: fe}

	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 1000})
	require.NoError(t, err)
	assert.Equal(t, "native", rep.Extraction.Pages[0].Source)
	assert.Equal(t, "Hello World", rep.Extraction.Pages[0].Text)
}

func TestAnalyzeCacheRoundTrip(t *testing.T) {
	st := newMemStore()
	a := &Analyzer{Store: st}
	data := helloPDF(t)

	first, err := a.Analyze(context.Background(), data, Options{ThresholdChars: 0})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, st.data, 1)

	second, err := a.Analyze(context.Background(), data, Options{ThresholdChars: 0})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.FileHash, second.FileHash)
	assert.Equal(t, first.Extraction.Pages, second.Extraction.Pages)
}

func TestAnalyzeEmitsAuditEvent(t *testing.T) {
	sink := &memSink{}
	a := &Analyzer{Audit: sink}

	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 0, RequestID: "req-42"})
	require.NoError(t, err)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Status)
	assert.Equal(t, rep.FileHash, events[0].FileHash)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.Equal(t, 1, events[0].Pages)
	assert.False(t, events[0].Cached)
}

func TestAnalyzeParseFailure(t *testing.T) {
	sink := &memSink{}
	a := &Analyzer{Audit: sink}

	_, err := a.Analyze(context.Background(), []byte("not a pdf at all"), Options{ThresholdChars: 0})
	require.Error(t, err)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Status)
}

func TestReportWireShape(t *testing.T) {
	a := &Analyzer{}
	rep, err := a.Analyze(context.Background(), helloPDF(t), Options{ThresholdChars: 0})
	require.NoError(t, err)

	body, err := json.Marshal(rep)
	require.NoError(t, err)

	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &wire))
	for _, key := range []string{"status", "file_hash", "document", "extraction", "signatures", "timings_ms"} {
		assert.Contains(t, wire, key)
	}

	extraction := wire["extraction"].(map[string]interface{})
	pages := extraction["pages"].([]interface{})
	require.Len(t, pages, 1)
	page := pages[0].(map[string]interface{})
	for _, key := range []string{"page_no", "text", "source", "chars"} {
		assert.Contains(t, page, key)
	}

	sigs := wire["signatures"].(map[string]interface{})
	digital := sigs["digital_signatures"].(map[string]interface{})
	// integer flags, not booleans
	assert.Equal(t, float64(0), digital["digital_signatures_detected"])
	wet := sigs["wet_signature"].(map[string]interface{})
	assert.Equal(t, float64(0), wet["wet_signatures_detected"])

	timings := wire["timings_ms"].(map[string]interface{})
	for _, key := range []string{"parse", "extract", "ocr", "signatures", "total"} {
		assert.Contains(t, timings, key)
	}

	// cached is omitted unless set
	assert.NotContains(t, wire, "cached")
}
