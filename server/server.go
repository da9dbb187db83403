// Package server is the HTTP surface: routes, handlers and middleware.
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/docpipe/docscan/analyze"
	"github.com/docpipe/docscan/logging"
	"github.com/docpipe/docscan/metrics"
	"github.com/docpipe/docscan/store"
)

// ReportReader serves cached reports by hash. *store.Store satisfies it.
type ReportReader interface {
	GetReport(hash string) ([]byte, error)
}

// Config tunes the HTTP layer.
type Config struct {
	MaxUploadBytes int64
	// ThresholdChars is the default OCR threshold when the form omits
	// ocr_threshold_chars. Zero is meaningful (length never triggers OCR);
	// negative defers to the analyzer default.
	ThresholdChars int
	RateLimitRPS   float64
	RateLimitBurst int
	// AuthSecret enables bearer-JWT auth when non-empty.
	AuthSecret string
}

// Server holds the handlers' collaborators.
type Server struct {
	cfg      Config
	analyzer *analyze.Analyzer
	jobs     *analyze.Manager
	reports  ReportReader
	log      *zap.SugaredLogger
	limiter  *clientLimiter
	upgrader websocket.Upgrader
}

// New wires a Server. reports may be nil when no cache is configured.
func New(cfg Config, analyzer *analyze.Analyzer, jobs *analyze.Manager, reports ReportReader, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	return &Server{
		cfg:      cfg,
		analyzer: analyzer,
		jobs:     jobs,
		reports:  reports,
		log:      log,
		limiter:  newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router builds the full handler chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/analyze_pdf", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/jobs", s.handleJobSubmit).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}", s.handleJobGet).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", s.handleJobCancel).Methods(http.MethodDelete)
	r.HandleFunc("/jobs/{id}/watch", s.handleJobWatch).Methods(http.MethodGet)
	r.HandleFunc("/reports/{hash}", s.handleReport).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.maxBytes(h)
	h = s.auth(h)
	h = s.rateLimit(h)
	h = corsAllowAll(h)
	h = metrics.InstrumentHandler(h)
	h = s.logRequests(h)
	h = requestID(h)
	h = s.recover(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	data, opts, herr := s.readInput(r)
	if herr != nil {
		writeDetail(w, herr.status, herr.detail)
		return
	}
	rep, err := s.analyzer.Analyze(r.Context(), data, opts)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	data, opts, herr := s.readInput(r)
	if herr != nil {
		writeDetail(w, herr.status, herr.detail)
		return
	}
	j, err := s.jobs.Submit(data, opts)
	if err != nil {
		if errors.Is(err, analyze.ErrQueueFull) {
			writeDetail(w, http.StatusServiceUnavailable, "job queue full")
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		writeDetail(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleJobCancel is idempotent: canceling a finished job returns its
// current document.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeDetail(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleJobWatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ch, stop, err := s.jobs.Watch(id)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "job not found")
		return
	}
	defer stop()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// drain client frames so peer-initiated close is noticed
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeDetail(w, http.StatusNotFound, "report not found")
		return
	}
	body, err := s.reports.GetReport(mux.Vars(r)["hash"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "report not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type httpError struct {
	status int
	detail string
}

// readInput pulls the PDF bytes and per-request options from a multipart
// upload (field "file") or a form field "pdf_base64".
func (s *Server) readInput(r *http.Request) ([]byte, analyze.Options, *httpError) {
	opts := analyze.Options{
		ThresholdChars: -1,
		RequestID:      RequestIDFrom(r.Context()),
	}
	if s.cfg.ThresholdChars >= 0 {
		opts.ThresholdChars = s.cfg.ThresholdChars
	}

	data, herr := s.readPDF(r)
	if herr != nil {
		return nil, opts, herr
	}

	if raw := r.FormValue("ocr_threshold_chars"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, opts, &httpError{http.StatusBadRequest, "ocr_threshold_chars must be a non-negative integer."}
		}
		opts.ThresholdChars = n
	}
	return data, opts, nil
}

func (s *Server) readPDF(r *http.Request) ([]byte, *httpError) {
	// multipart first; a plain form body falls through to FormValue
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &httpError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return nil, &httpError{http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err)}
	}

	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, &httpError{http.StatusBadRequest, fmt.Sprintf("reading upload: %v", err)}
		}
		if len(data) > 0 {
			return data, nil
		}
	}

	if b64 := r.FormValue("pdf_base64"); b64 != "" {
		data, err := decodeBase64(b64)
		if err != nil {
			return nil, &httpError{http.StatusBadRequest, "Invalid base64 PDF data."}
		}
		return data, nil
	}

	return nil, &httpError{http.StatusBadRequest, "No PDF provided (file or pdf_base64 is required)."}
}

// decodeBase64 accepts standard padded input and, failing that, unpadded.
func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
