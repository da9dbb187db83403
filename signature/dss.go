package signature

import (
	"context"

	"golang.org/x/crypto/ocsp"

	"github.com/docpipe/docscan/pdf"
)

// DSSInfo is a census of the Document Security Store validation material.
type DSSInfo struct {
	Certs      int      `json:"certs"`
	OCSPs      int      `json:"ocsps"`
	CRLs       int      `json:"crls"`
	OCSPStatus []string `json:"ocsp_status,omitempty"`
}

// collectDSS reads /Root /DSS when present: counts of embedded certificates,
// OCSP responses and CRLs, plus the status each OCSP response reports.
func collectDSS(ctx context.Context, doc *pdf.Document) *DSSInfo {
	dssObj, ok := doc.Catalog().Get("DSS")
	if !ok {
		return nil
	}
	resolved, err := doc.Resolve(ctx, dssObj)
	if err != nil {
		return nil
	}
	dss, ok := resolved.(*pdf.Dict)
	if !ok {
		return nil
	}
	info := &DSSInfo{}
	info.Certs = arrayLen(ctx, doc, dss, "Certs")
	info.CRLs = arrayLen(ctx, doc, dss, "CRLs")

	ocsps := resolveArray(ctx, doc, dss, "OCSPs")
	if ocsps == nil {
		return info
	}
	info.OCSPs = ocsps.Len()
	for i := 0; i < ocsps.Len(); i++ {
		data := streamBytes(ctx, doc, ocsps.At(i))
		if len(data) == 0 {
			continue
		}
		resp, err := ocsp.ParseResponse(data, nil)
		if err != nil {
			continue
		}
		info.OCSPStatus = append(info.OCSPStatus, ocspStatusName(resp.Status))
	}
	return info
}

func ocspStatusName(status int) string {
	switch status {
	case ocsp.Good:
		return "good"
	case ocsp.Revoked:
		return "revoked"
	default:
		return "unknown"
	}
}

func resolveArray(ctx context.Context, doc *pdf.Document, d *pdf.Dict, key pdf.Name) *pdf.Array {
	obj, ok := d.Get(key)
	if !ok {
		return nil
	}
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return nil
	}
	arr, ok := resolved.(*pdf.Array)
	if !ok {
		return nil
	}
	return arr
}

func arrayLen(ctx context.Context, doc *pdf.Document, d *pdf.Dict, key pdf.Name) int {
	if arr := resolveArray(ctx, doc, d, key); arr != nil {
		return arr.Len()
	}
	return 0
}

func streamBytes(ctx context.Context, doc *pdf.Document, obj pdf.Object) []byte {
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return nil
	}
	st, ok := resolved.(*pdf.Stream)
	if !ok {
		return nil
	}
	data, err := doc.DecodeStream(ctx, st)
	if err != nil {
		return nil
	}
	return data
}
