package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// ErrEncrypted is returned by operations that need decoded content on a
// document carrying an /Encrypt dictionary.
var ErrEncrypted = errors.New("pdf: document is encrypted")

// Metadata mirrors the document information dictionary.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
	Producer string
	Created  string
	Modified string
}

// Page is one leaf of the page tree with inheritable attributes resolved.
type Page struct {
	Number    int // 1-based
	MediaBox  Rect
	CropBox   Rect
	Rotate    int
	Resources *Dict

	dict     *Dict
	contents Object
}

// Dict returns the page dictionary.
func (p *Page) Dict() *Dict { return p.dict }

// Options configure Open.
type Options struct {
	// Limits bound resource use; zero fields take DefaultLimits.
	Limits Limits
	// Strict aborts on the first parse fault instead of collecting warnings.
	Strict bool
}

// Document is a parsed, read-only PDF.
type Document struct {
	data      []byte
	lim       Limits
	strat     Strategy
	lenient   *Lenient
	loader    *Loader
	trailer   *Dict
	catalog   *Dict
	version   string
	encrypted bool
	pages     []*Page
	meta      Metadata
}

// Open parses data as a PDF. Under the default lenient strategy recoverable
// faults become warnings; Open fails only when no usable cross-reference
// information can be built at all.
func Open(ctx context.Context, data []byte, opts Options) (*Document, error) {
	if len(data) == 0 {
		return nil, errors.New("pdf: empty input")
	}
	lim := opts.Limits.withDefaults()
	var strat Strategy
	var lenient *Lenient
	if opts.Strict {
		strat = Strict{}
	} else {
		lenient = &Lenient{}
		strat = lenient
	}

	version, err := headerVersion(data)
	if err != nil {
		if ferr := strat.OnFault(err, Location{Component: "header"}); ferr != nil {
			return nil, ferr
		}
	}

	xref, err := resolveXref(ctx, data, lim, strat)
	if err != nil {
		return nil, fmt.Errorf("pdf: resolve xref: %w", err)
	}

	doc := &Document{
		data:    data,
		lim:     lim,
		strat:   strat,
		lenient: lenient,
		loader:  newLoader(data, xref, lim, strat),
		trailer: xref.trailer,
		version: version,
	}
	doc.encrypted = doc.trailer.Has("Encrypt")

	if err := doc.loadCatalog(ctx); err != nil {
		return nil, err
	}
	if err := doc.loadPages(ctx); err != nil {
		return nil, err
	}
	doc.loadMetadata(ctx)
	return doc, nil
}

// headerVersion reads the %PDF-x.y comment. Some producers prepend junk, so
// the header is searched for within the first kilobyte.
func headerVersion(data []byte) (string, error) {
	window := data
	if len(window) > 1024 {
		window = window[:1024]
	}
	i := bytes.Index(window, []byte("%PDF-"))
	if i < 0 {
		return "", errors.New("missing %PDF- header")
	}
	rest := window[i+5:]
	end := 0
	for end < len(rest) && end < 8 && !isWhite(rest[end]) && !isDelim(rest[end]) {
		end++
	}
	if end == 0 {
		return "", errors.New("malformed %PDF- header")
	}
	return string(rest[:end]), nil
}

func (d *Document) loadCatalog(ctx context.Context) error {
	root, ok := d.trailer.Get("Root")
	if !ok {
		if ferr := d.strat.OnFault(errors.New("trailer missing /Root"), Location{Component: "catalog"}); ferr != nil {
			return ferr
		}
		d.catalog = NewDict()
		return nil
	}
	obj, err := d.loader.Resolve(ctx, root)
	if err != nil {
		if ferr := d.strat.OnFault(err, Location{Component: "catalog"}); ferr != nil {
			return ferr
		}
		d.catalog = NewDict()
		return nil
	}
	cat, ok := obj.(*Dict)
	if !ok {
		if ferr := d.strat.OnFault(fmt.Errorf("/Root is %T, not a dict", obj), Location{Component: "catalog"}); ferr != nil {
			return ferr
		}
		cat = NewDict()
	}
	d.catalog = cat
	return nil
}

// inherited carries the page attributes that flow down the page tree.
type inherited struct {
	resources *Dict
	mediaBox  *Rect
	cropBox   *Rect
	rotate    *int
}

func (d *Document) loadPages(ctx context.Context) error {
	rootObj, ok := d.catalog.Get("Pages")
	if !ok {
		if ferr := d.strat.OnFault(errors.New("catalog missing /Pages"), Location{Component: "pages"}); ferr != nil {
			return ferr
		}
		return nil
	}
	visited := make(map[Ref]bool)
	if ref, isRef := rootObj.(Ref); isRef {
		visited[ref] = true
	}
	return d.walkPageNode(ctx, rootObj, inherited{}, visited)
}

func (d *Document) walkPageNode(ctx context.Context, node Object, inh inherited, visited map[Ref]bool) error {
	fault := func(err error) error {
		return d.strat.OnFault(err, Location{Component: "pages"})
	}
	obj, err := d.loader.Resolve(ctx, node)
	if err != nil {
		return fault(err)
	}
	dict, ok := obj.(*Dict)
	if !ok {
		return fault(fmt.Errorf("page tree node is %T, not a dict", obj))
	}

	if res, ok := d.resolveDict(ctx, dict, "Resources"); ok {
		inh.resources = res
	}
	if box, ok := d.resolveRect(ctx, dict, "MediaBox"); ok {
		inh.mediaBox = &box
	}
	if box, ok := d.resolveRect(ctx, dict, "CropBox"); ok {
		inh.cropBox = &box
	}
	if rot, ok := dict.Int("Rotate"); ok {
		r := int(rot) % 360
		if r < 0 {
			r += 360
		}
		inh.rotate = &r
	}

	typ, _ := dict.Name("Type")
	kids, hasKids := dict.Arr("Kids")
	if typ == "Page" || (!hasKids && typ != "Pages") {
		if len(d.pages) >= d.lim.MaxPages {
			return errors.New("pdf: page count exceeds limit")
		}
		page := &Page{
			Number:    len(d.pages) + 1,
			Resources: inh.resources,
			dict:      dict,
		}
		if inh.mediaBox != nil {
			page.MediaBox = *inh.mediaBox
		} else {
			page.MediaBox = Rect{X1: 612, Y1: 792} // US Letter default
		}
		if inh.cropBox != nil {
			page.CropBox = *inh.cropBox
		} else {
			page.CropBox = page.MediaBox
		}
		if inh.rotate != nil {
			page.Rotate = *inh.rotate
		}
		if contents, ok := dict.Get("Contents"); ok {
			page.contents = contents
		}
		d.pages = append(d.pages, page)
		return nil
	}
	if !hasKids {
		return fault(errors.New("pages node without /Kids"))
	}
	for i := 0; i < kids.Len(); i++ {
		kid := kids.At(i)
		if ref, isRef := kid.(Ref); isRef {
			if visited[ref] {
				if err := fault(fmt.Errorf("page tree cycle at %s", ref)); err != nil {
					return err
				}
				continue
			}
			visited[ref] = true
		}
		if err := d.walkPageNode(ctx, kid, inh, visited); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) resolveDict(ctx context.Context, parent *Dict, key Name) (*Dict, bool) {
	obj, ok := parent.Get(key)
	if !ok {
		return nil, false
	}
	resolved, err := d.loader.Resolve(ctx, obj)
	if err != nil {
		return nil, false
	}
	dict, ok := resolved.(*Dict)
	return dict, ok
}

func (d *Document) resolveRect(ctx context.Context, parent *Dict, key Name) (Rect, bool) {
	obj, ok := parent.Get(key)
	if !ok {
		return Rect{}, false
	}
	resolved, err := d.loader.Resolve(ctx, obj)
	if err != nil {
		return Rect{}, false
	}
	arr, ok := resolved.(*Array)
	if !ok {
		return Rect{}, false
	}
	return RectFromArray(arr)
}

func (d *Document) loadMetadata(ctx context.Context) {
	info, ok := d.resolveDict(ctx, d.trailer, "Info")
	if !ok {
		return
	}
	text := func(key Name) string {
		obj, ok := info.Get(key)
		if !ok {
			return ""
		}
		resolved, err := d.loader.Resolve(ctx, obj)
		if err != nil {
			return ""
		}
		s, ok := resolved.(String)
		if !ok {
			return ""
		}
		return DecodeTextString(s)
	}
	d.meta.Title = text("Title")
	d.meta.Author = text("Author")
	d.meta.Subject = text("Subject")
	d.meta.Keywords = text("Keywords")
	d.meta.Creator = text("Creator")
	d.meta.Producer = text("Producer")
	if ts, ok := ParseDate(text("CreationDate")); ok {
		d.meta.Created = ts.Format("2006-01-02T15:04:05Z07:00")
	}
	if ts, ok := ParseDate(text("ModDate")); ok {
		d.meta.Modified = ts.Format("2006-01-02T15:04:05Z07:00")
	}
}

// Version reports the header version ("1.7"); empty when the header was
// missing and repaired around.
func (d *Document) Version() string { return d.version }

// Encrypted reports whether the trailer carries /Encrypt. Content decoding
// is not attempted on encrypted documents.
func (d *Document) Encrypted() bool { return d.encrypted }

// PageCount returns the number of pages found in the page tree.
func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the i-th page (0-based) or nil when out of range.
func (d *Document) Page(i int) *Page {
	if i < 0 || i >= len(d.pages) {
		return nil
	}
	return d.pages[i]
}

// Pages returns all pages in document order.
func (d *Document) Pages() []*Page { return d.pages }

// Metadata returns the document information dictionary values.
func (d *Document) Metadata() Metadata { return d.meta }

// Trailer returns the merged trailer dictionary.
func (d *Document) Trailer() *Dict { return d.trailer }

// Catalog returns the document catalog; never nil after a successful Open.
func (d *Document) Catalog() *Dict { return d.catalog }

// Warnings returns the faults absorbed during lenient parsing.
func (d *Document) Warnings() []string {
	if d.lenient == nil {
		return nil
	}
	return d.lenient.Warnings()
}

// Load materializes an indirect object.
func (d *Document) Load(ctx context.Context, ref Ref) (Object, error) {
	return d.loader.Load(ctx, ref)
}

// Resolve dereferences obj until it is a direct object.
func (d *Document) Resolve(ctx context.Context, obj Object) (Object, error) {
	return d.loader.Resolve(ctx, obj)
}

// DecodeStream runs st's body through its filter pipeline.
func (d *Document) DecodeStream(ctx context.Context, st *Stream) ([]byte, error) {
	return d.loader.pipe.DecodeStream(ctx, st)
}

// AcroForm resolves the interactive-forms dictionary, or nil when absent.
func (d *Document) AcroForm(ctx context.Context) (*Dict, error) {
	obj, ok := d.catalog.Get("AcroForm")
	if !ok {
		return nil, nil
	}
	resolved, err := d.loader.Resolve(ctx, obj)
	if err != nil {
		return nil, err
	}
	dict, ok := resolved.(*Dict)
	if !ok {
		return nil, nil
	}
	return dict, nil
}

// PageContent returns the decoded, concatenated content streams of page i
// (0-based). Content of encrypted documents is not decoded.
func (d *Document) PageContent(ctx context.Context, i int) ([]byte, error) {
	page := d.Page(i)
	if page == nil {
		return nil, fmt.Errorf("pdf: page %d out of range", i)
	}
	if d.encrypted {
		return nil, ErrEncrypted
	}
	if page.contents == nil {
		return nil, nil
	}
	var out bytes.Buffer
	if err := d.appendContent(ctx, page.contents, &out); err != nil {
		if ferr := d.strat.OnFault(err, Location{Component: "content"}); ferr != nil {
			return nil, ferr
		}
	}
	return out.Bytes(), nil
}

func (d *Document) appendContent(ctx context.Context, obj Object, out *bytes.Buffer) error {
	resolved, err := d.loader.Resolve(ctx, obj)
	if err != nil {
		return err
	}
	switch v := resolved.(type) {
	case *Stream:
		data, err := d.DecodeStream(ctx, v)
		if err != nil {
			return err
		}
		out.Write(data)
		out.WriteByte('\n')
	case *Array:
		for i := 0; i < v.Len(); i++ {
			if err := d.appendContent(ctx, v.At(i), out); err != nil {
				return err
			}
		}
	}
	return nil
}
