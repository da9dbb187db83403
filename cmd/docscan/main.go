// Command docscan analyzes a local PDF and prints the report JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docpipe/docscan/analyze"
	"github.com/docpipe/docscan/logging"
	_ "github.com/docpipe/docscan/ocr/tesseract" // registers the default OCR engine
	"github.com/docpipe/docscan/render"
	"github.com/docpipe/docscan/signature"
)

func main() {
	var (
		file      = flag.String("file", "", "PDF file to analyze (required)")
		threshold = flag.Int("threshold", 800, "native-text length below which a page is OCRed")
		langs     = flag.String("langs", "eng", "OCR language hints, e.g. eng+deu")
		noOCR     = flag.Bool("no-ocr", false, "disable the OCR fallback")
		noWet     = flag.Bool("no-wet", false, "disable the wet-ink signature scan")
		dpi       = flag.Int("dpi", 144, "render resolution for OCR and wet-ink scan")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall analysis deadline")
		pretty    = flag.Bool("pretty", false, "indent the report JSON")
	)
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*file, *threshold, *langs, *noOCR, *noWet, *dpi, *timeout, *pretty); err != nil {
		fmt.Fprintln(os.Stderr, "docscan:", err)
		os.Exit(1)
	}
}

func run(file string, threshold int, langs string, noOCR, noWet bool, dpi int, timeout time.Duration, pretty bool) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	renderer := &render.Renderer{}
	analyzer := &analyze.Analyzer{
		Renderer:   renderer,
		Log:        logging.Nop(),
		OCREnabled: !noOCR,
		DPI:        dpi,
	}
	if !noWet {
		analyzer.Wet = &signature.WetScanner{Renderer: renderer, DPI: dpi}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rep, err := analyzer.Analyze(ctx, data, analyze.Options{
		ThresholdChars: threshold,
		Languages:      splitLangs(langs),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rep)
}

func splitLangs(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
}
