// Package signature detects digital signatures (AcroForm fields, embedded
// PKCS#7 data, DSS material) and handwritten wet-ink signatures on rendered
// pages.
package signature

import (
	"bytes"
	"context"
	"regexp"

	"github.com/docpipe/docscan/pdf"
)

// RawMarkerNote is the info note used when only a raw-byte scan hit.
const RawMarkerNote = "Signature markers found in raw PDF bytes"

// Detail describes one detected digital signature. FieldName is null on the
// wire when the field carries no /T, and Info is always present, empty or not.
type Detail struct {
	FieldName           *string           `json:"field_name"`
	Info                map[string]string `json:"info"`
	Signer              *SignerSummary    `json:"signer,omitempty"`
	ByteRangeCoversFile *bool             `json:"byte_range_covers_file,omitempty"`
}

// Digital aggregates the digital-signature findings of one document.
// Detected is 1 or 0 on the wire, not a boolean.
type Digital struct {
	Detected int      `json:"digital_signatures_detected"`
	Details  []Detail `json:"details"`
	DSS      *DSSInfo `json:"dss,omitempty"`
}

// infoKeys are the /V entries surfaced per field, keyed as the wire format
// expects them.
var infoKeys = []pdf.Name{"Name", "M", "Location", "Reason", "Filter", "SubFilter"}

// DetectDigital walks the AcroForm field tree for /FT /Sig fields. When the
// tree yields nothing, the raw bytes are scanned for signature markers, as a
// damaged or unparsable file may still contain one.
func DetectDigital(ctx context.Context, doc *pdf.Document, raw []byte) Digital {
	out := Digital{Details: []Detail{}}
	if doc != nil {
		out.Details = append(out.Details, acroFormDetails(ctx, doc, raw)...)
		out.DSS = collectDSS(ctx, doc)
	}
	if len(out.Details) > 0 {
		out.Detected = 1
		return out
	}
	if hasRawMarkers(raw) {
		out.Detected = 1
		out.Details = append(out.Details, Detail{Info: map[string]string{"note": RawMarkerNote}})
	}
	return out
}

// sigTypeMarker tolerates any whitespace between /Type and /Sig, newlines
// included, matching how writers actually break dictionary lines.
var sigTypeMarker = regexp.MustCompile(`/Type\s*/Sig`)

func hasRawMarkers(raw []byte) bool {
	return sigTypeMarker.Match(raw) || bytes.Contains(raw, []byte("Adobe.PPKLite"))
}

func acroFormDetails(ctx context.Context, doc *pdf.Document, raw []byte) []Detail {
	form, err := doc.AcroForm(ctx)
	if err != nil || form == nil {
		return nil
	}
	fieldsObj, ok := form.Get("Fields")
	if !ok {
		return nil
	}
	resolved, err := doc.Resolve(ctx, fieldsObj)
	if err != nil {
		return nil
	}
	fields, ok := resolved.(*pdf.Array)
	if !ok {
		return nil
	}
	var details []Detail
	visited := make(map[pdf.Ref]bool)
	for i := 0; i < fields.Len(); i++ {
		walkField(ctx, doc, fields.At(i), raw, visited, &details)
	}
	return details
}

// walkField recurses through /Kids, collecting every terminal /FT /Sig field.
func walkField(ctx context.Context, doc *pdf.Document, obj pdf.Object, raw []byte, visited map[pdf.Ref]bool, details *[]Detail) {
	if ref, ok := obj.(pdf.Ref); ok {
		if visited[ref] {
			return
		}
		visited[ref] = true
	}
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return
	}
	field, ok := resolved.(*pdf.Dict)
	if !ok {
		return
	}
	if ft, _ := resolveName(ctx, doc, field, "FT"); ft == "Sig" {
		*details = append(*details, signatureDetail(ctx, doc, field, raw))
	}
	if kidsObj, ok := field.Get("Kids"); ok {
		if kr, err := doc.Resolve(ctx, kidsObj); err == nil {
			if kids, ok := kr.(*pdf.Array); ok {
				for i := 0; i < kids.Len(); i++ {
					walkField(ctx, doc, kids.At(i), raw, visited, details)
				}
			}
		}
	}
}

func signatureDetail(ctx context.Context, doc *pdf.Document, field *pdf.Dict, raw []byte) Detail {
	detail := Detail{Info: map[string]string{}}
	if t, ok := resolveString(ctx, doc, field, "T"); ok {
		detail.FieldName = &t
	}

	vObj, ok := field.Get("V")
	if !ok {
		return detail
	}
	resolved, err := doc.Resolve(ctx, vObj)
	if err != nil {
		return detail
	}
	v, ok := resolved.(*pdf.Dict)
	if !ok {
		return detail
	}

	for _, key := range infoKeys {
		if s, ok := resolveString(ctx, doc, v, key); ok {
			detail.Info[string(key)] = s
			continue
		}
		if n, ok := resolveName(ctx, doc, v, key); ok {
			detail.Info[string(key)] = string(n)
		}
	}

	if contents, ok := v.Get("Contents"); ok {
		if cr, err := doc.Resolve(ctx, contents); err == nil {
			if s, ok := cr.(pdf.String); ok {
				if signer := parseSignerSummary([]byte(s)); signer != nil {
					detail.Signer = signer
				}
			}
		}
	}

	if br, ok := v.Get("ByteRange"); ok {
		if rr, err := doc.Resolve(ctx, br); err == nil {
			if arr, ok := rr.(*pdf.Array); ok {
				covers := byteRangeCoversFile(arr, int64(len(raw)))
				detail.ByteRangeCoversFile = &covers
			}
		}
	}
	return detail
}

// byteRangeCoversFile checks a [0 a b c] range against the file size,
// tolerating the trailing EOL some writers leave after %%EOF.
func byteRangeCoversFile(arr *pdf.Array, fileSize int64) bool {
	if arr.Len() != 4 {
		return false
	}
	vals := make([]int64, 4)
	for i := 0; i < 4; i++ {
		n, ok := arr.At(i).(pdf.Number)
		if !ok {
			return false
		}
		vals[i] = n.Int()
	}
	if vals[0] != 0 {
		return false
	}
	end := vals[2] + vals[3]
	return end == fileSize || (end < fileSize && fileSize-end <= 4)
}

func resolveString(ctx context.Context, doc *pdf.Document, d *pdf.Dict, key pdf.Name) (string, bool) {
	obj, ok := d.Get(key)
	if !ok {
		return "", false
	}
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return "", false
	}
	s, ok := resolved.(pdf.String)
	if !ok {
		return "", false
	}
	return pdf.DecodeTextString(s), true
}

func resolveName(ctx context.Context, doc *pdf.Document, d *pdf.Dict, key pdf.Name) (pdf.Name, bool) {
	obj, ok := d.Get(key)
	if !ok {
		return "", false
	}
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return "", false
	}
	n, ok := resolved.(pdf.Name)
	return n, ok
}
