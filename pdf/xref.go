package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

type xrefKind int

const (
	xrefFree xrefKind = iota
	xrefOffset
	xrefInStream
)

type xrefEntry struct {
	kind   xrefKind
	off    int64
	gen    int
	stmNum int
	stmIdx int
}

type numberedEntry struct {
	num int
	e   xrefEntry
}

// xrefTable maps object numbers to their location. Sections are applied
// newest first, so the first write for a number wins.
type xrefTable struct {
	entries map[int]xrefEntry
	trailer *Dict
}

func (t *xrefTable) lookup(num int) (int64, int, bool) {
	e, ok := t.entries[num]
	if !ok || e.kind != xrefOffset {
		return 0, 0, false
	}
	return e.off, e.gen, true
}

func (t *xrefTable) inObjectStream(num int) (stmNum, idx int, ok bool) {
	e, found := t.entries[num]
	if !found || e.kind != xrefInStream {
		return 0, 0, false
	}
	return e.stmNum, e.stmIdx, true
}

func (t *xrefTable) apply(ents []numberedEntry, lim Limits) error {
	for _, ne := range ents {
		if len(t.entries) >= lim.MaxObjects {
			return errors.New("pdf: object count exceeds limit")
		}
		if _, exists := t.entries[ne.num]; !exists {
			t.entries[ne.num] = ne.e
		}
	}
	return nil
}

// mergeTrailer keeps the newest value for document-level trailer keys.
func (t *xrefTable) mergeTrailer(d *Dict) {
	if d == nil {
		return
	}
	for _, key := range d.Keys() {
		switch key {
		case "Prev", "XRefStm", "Type", "W", "Index", "Length", "Filter", "DecodeParms", "DP":
			continue
		}
		if !t.trailer.Has(key) {
			if v, ok := d.Get(key); ok {
				t.trailer.Set(key, v)
			}
		}
	}
}

// resolveXref builds the table from startxref and the /Prev chain, falling
// back to a whole-file repair scan when the chain is missing or empty.
func resolveXref(ctx context.Context, data []byte, lim Limits, strat Strategy) (*xrefTable, error) {
	lim = lim.withDefaults()
	t := &xrefTable{entries: make(map[int]xrefEntry), trailer: NewDict()}

	start, err := findStartXref(data)
	if err != nil {
		if ferr := strat.OnFault(err, Location{Component: "xref"}); ferr != nil {
			return nil, ferr
		}
		return repairXref(ctx, data, lim, strat)
	}

	visited := make(map[int64]bool)
	off := start
	for sec := 0; sec < lim.MaxXrefSections && off >= 0; sec++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if off >= int64(len(data)) || visited[off] {
			if ferr := strat.OnFault(errors.New("broken xref chain"), Location{Offset: off, Component: "xref"}); ferr != nil {
				return nil, ferr
			}
			break
		}
		visited[off] = true
		ents, trailer, err := loadXrefSection(ctx, data, off, lim, strat)
		if err != nil {
			if ferr := strat.OnFault(err, Location{Offset: off, Component: "xref"}); ferr != nil {
				return nil, ferr
			}
			break
		}
		if err := t.apply(ents, lim); err != nil {
			return nil, err
		}
		t.mergeTrailer(trailer)
		off = -1
		if trailer != nil {
			if prev, ok := trailer.Int("Prev"); ok {
				off = prev
			}
		}
	}

	if len(t.entries) == 0 {
		return repairXref(ctx, data, lim, strat)
	}
	return t, nil
}

// findStartXref locates the startxref pointer near the end of the file.
func findStartXref(data []byte) (int64, error) {
	tail := data
	const window = 2048
	base := 0
	if len(tail) > window {
		base = len(tail) - window
		tail = tail[base:]
	}
	i := bytes.LastIndex(tail, []byte("startxref"))
	if i < 0 {
		return 0, errors.New("pdf: startxref not found")
	}
	lex := NewLexer(data, Limits{})
	if err := lex.SeekTo(int64(base + i + len("startxref"))); err != nil {
		return 0, err
	}
	tok, err := lex.Next()
	if err != nil || tok.Kind != TokNumber || !tok.IsInt {
		return 0, errors.New("pdf: malformed startxref")
	}
	if tok.Int < 0 || tok.Int >= int64(len(data)) {
		return 0, errors.New("pdf: startxref out of range")
	}
	return tok.Int, nil
}

// loadXrefSection reads one section (classic table or xref stream) at off.
// For hybrid files the /XRefStm entries are placed ahead of the classic
// ones so they take precedence within the section.
func loadXrefSection(ctx context.Context, data []byte, off int64, lim Limits, strat Strategy) ([]numberedEntry, *Dict, error) {
	lex := NewLexer(data, lim)
	if err := lex.SeekTo(off); err != nil {
		return nil, nil, err
	}
	tok, err := lex.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Kind == TokKeyword && tok.Str == "xref" {
		ents, trailer, err := loadClassicSection(lex, lim, strat)
		if err != nil {
			return nil, nil, err
		}
		if trailer != nil {
			if stmOff, ok := trailer.Int("XRefStm"); ok && stmOff > 0 && stmOff < int64(len(data)) {
				stmEnts, _, serr := loadStreamSection(ctx, data, stmOff, lim, strat)
				if serr != nil {
					if ferr := strat.OnFault(serr, Location{Offset: stmOff, Component: "xref"}); ferr != nil {
						return nil, nil, ferr
					}
				} else {
					ents = append(stmEnts, ents...)
				}
			}
		}
		return ents, trailer, nil
	}
	return loadStreamSection(ctx, data, off, lim, strat)
}

func loadClassicSection(lex *Lexer, lim Limits, strat Strategy) ([]numberedEntry, *Dict, error) {
	var ents []numberedEntry
	for {
		tok, err := lex.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("truncated xref table: %w", err)
		}
		if tok.Kind == TokKeyword && tok.Str == "trailer" {
			tr := newTokenReader(lex)
			obj, err := parseObject(tr, lim, strat, Location{Component: "trailer"})
			if err != nil {
				return nil, nil, fmt.Errorf("parse trailer: %w", err)
			}
			trailer, ok := obj.(*Dict)
			if !ok {
				return nil, nil, errors.New("trailer is not a dictionary")
			}
			return ents, trailer, nil
		}
		if tok.Kind != TokNumber || !tok.IsInt {
			return nil, nil, fmt.Errorf("unexpected token in xref table at %d", tok.Pos)
		}
		subStart := tok.Int
		cnt, err := lex.Next()
		if err != nil || cnt.Kind != TokNumber || !cnt.IsInt || cnt.Int < 0 {
			return nil, nil, errors.New("malformed xref subsection header")
		}
		if int64(len(ents))+cnt.Int > int64(lim.MaxObjects) {
			return nil, nil, errors.New("xref subsection exceeds object limit")
		}
		for k := int64(0); k < cnt.Int; k++ {
			f1, err := lex.Next()
			if err != nil || f1.Kind != TokNumber || !f1.IsInt {
				return nil, nil, errors.New("malformed xref entry")
			}
			f2, err := lex.Next()
			if err != nil || f2.Kind != TokNumber || !f2.IsInt {
				return nil, nil, errors.New("malformed xref entry")
			}
			kind, err := lex.Next()
			if err != nil || kind.Kind != TokKeyword || (kind.Str != "n" && kind.Str != "f") {
				return nil, nil, errors.New("malformed xref entry type")
			}
			num := int(subStart + k)
			if kind.Str == "f" {
				ents = append(ents, numberedEntry{num: num, e: xrefEntry{kind: xrefFree, gen: int(f2.Int)}})
			} else {
				ents = append(ents, numberedEntry{num: num, e: xrefEntry{kind: xrefOffset, off: f1.Int, gen: int(f2.Int)}})
			}
		}
	}
}

// loadStreamSection parses a cross-reference stream (PDF 1.5+).
func loadStreamSection(ctx context.Context, data []byte, off int64, lim Limits, strat Strategy) ([]numberedEntry, *Dict, error) {
	lex := NewLexer(data, lim)
	if err := lex.SeekTo(off); err != nil {
		return nil, nil, err
	}
	tr := newTokenReader(lex)
	tokNum, err := tr.next()
	if err != nil || tokNum.Kind != TokNumber || !tokNum.IsInt {
		return nil, nil, errors.New("not an xref stream object")
	}
	tokGen, err := tr.next()
	if err != nil || tokGen.Kind != TokNumber || !tokGen.IsInt {
		return nil, nil, errors.New("not an xref stream object")
	}
	tokObj, err := tr.next()
	if err != nil || tokObj.Kind != TokKeyword || tokObj.Str != "obj" {
		return nil, nil, errors.New("not an xref stream object")
	}
	obj, err := parseObject(tr, lim, strat, Location{Offset: off, Component: "xrefstm"})
	if err != nil {
		return nil, nil, err
	}
	dict, ok := obj.(*Dict)
	if !ok {
		return nil, nil, errors.New("xref stream header is not a dictionary")
	}
	if typ, _ := dict.Name("Type"); typ != "XRef" {
		return nil, nil, errors.New("object at startxref is not an XRef stream")
	}
	tok, err := tr.next()
	if err != nil || tok.Kind != TokKeyword || tok.Str != "stream" {
		return nil, nil, errors.New("xref stream body missing")
	}
	hint := int64(-1)
	if n, ok := dict.Int("Length"); ok { // xref stream dict entries are direct
		hint = n
	}
	raw, err := lex.ReadStreamBody(hint, lim.MaxStreamLength)
	if err != nil && len(raw) == 0 {
		return nil, nil, err
	}
	pipe := Pipeline{Limits: lim}
	decoded, err := pipe.DecodeStream(ctx, NewStream(dict, raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode xref stream: %w", err)
	}

	wArr, ok := dict.Arr("W")
	if !ok || wArr.Len() < 2 || wArr.Len() > 8 {
		return nil, nil, errors.New("xref stream missing W")
	}
	var w [3]int
	for i := 0; i < 3 && i < wArr.Len(); i++ {
		n, isNum := wArr.Items[i].(Number)
		if !isNum || n.Int() < 0 || n.Int() > 8 {
			return nil, nil, errors.New("xref stream W out of range")
		}
		w[i] = int(n.Int())
	}
	size, _ := dict.Int("Size")
	var index []int64
	if idxArr, ok := dict.Arr("Index"); ok {
		for _, it := range idxArr.Items {
			n, isNum := it.(Number)
			if !isNum {
				return nil, nil, errors.New("xref stream Index malformed")
			}
			index = append(index, n.Int())
		}
	} else {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return nil, nil, errors.New("xref stream Index malformed")
	}

	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, nil, errors.New("xref stream W is empty")
	}
	var ents []numberedEntry
	pos := 0
	for p := 0; p < len(index); p += 2 {
		first, count := index[p], index[p+1]
		for k := int64(0); k < count; k++ {
			if pos+rowLen > len(decoded) {
				if ferr := strat.OnFault(errors.New("xref stream shorter than Index"), Location{Offset: off, Component: "xrefstm"}); ferr != nil {
					return nil, nil, ferr
				}
				return ents, dict, nil
			}
			row := decoded[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1) // default when W[0] == 0
			if w[0] > 0 {
				typ = beUint(row[:w[0]])
			}
			f2 := beUint(row[w[0] : w[0]+w[1]])
			f3 := beUint(row[w[0]+w[1]:])
			num := int(first + k)
			switch typ {
			case 0:
				ents = append(ents, numberedEntry{num: num, e: xrefEntry{kind: xrefFree, gen: int(f3)}})
			case 1:
				ents = append(ents, numberedEntry{num: num, e: xrefEntry{kind: xrefOffset, off: f2, gen: int(f3)}})
			case 2:
				ents = append(ents, numberedEntry{num: num, e: xrefEntry{kind: xrefInStream, stmNum: int(f2), stmIdx: int(f3)}})
			default:
				// unknown types are reserved; treated as null references
			}
			if int64(len(ents)) > int64(lim.MaxObjects) {
				return nil, nil, errors.New("xref stream exceeds object limit")
			}
		}
	}
	return ents, dict, nil
}

func beUint(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// repairXref reconstructs the table by scanning the whole file for
// "num gen obj" headers and trailer dictionaries. The newest definition of
// an object (the one later in the file) wins, as does the last trailer.
func repairXref(ctx context.Context, data []byte, lim Limits, strat Strategy) (*xrefTable, error) {
	lex := NewLexer(data, lim)
	entries := make(map[int]xrefEntry)
	var trailer *Dict

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := lex.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// skip one byte past whatever confused the lexer
			if serr := lex.SeekTo(lex.Pos() + 1); serr != nil {
				break
			}
			continue
		}
		switch {
		case tok.Kind == TokNumber && tok.IsInt && tok.Int >= 0:
			objNum := int(tok.Int)
			objPos := tok.Pos
			tokGen, gerr := lex.Next()
			if gerr != nil || tokGen.Kind != TokNumber || !tokGen.IsInt {
				continue // errors resurface on the next iteration
			}
			tokObj, oerr := lex.Next()
			if oerr != nil {
				continue
			}
			if tokObj.Kind == TokKeyword && tokObj.Str == "obj" {
				if len(entries) >= lim.MaxObjects {
					return nil, errors.New("pdf: object count exceeds limit")
				}
				entries[objNum] = xrefEntry{kind: xrefOffset, off: objPos, gen: int(tokGen.Int)}
				continue
			}
			// the second number may itself start an object header
			_ = lex.SeekTo(tokGen.Pos)
		case tok.Kind == TokKeyword && tok.Str == "trailer":
			tr := newTokenReader(lex)
			if obj, perr := parseObject(tr, lim, strat, Location{Component: "repair"}); perr == nil {
				if d, ok := obj.(*Dict); ok {
					trailer = d
				}
			}
		case tok.Kind == TokKeyword && tok.Str == "stream":
			// jump over binary stream bodies instead of tokenizing them
			rest := data[lex.Pos():]
			if idx := bytes.Index(rest, []byte("endstream")); idx >= 0 {
				_ = lex.SeekTo(lex.Pos() + int64(idx+len("endstream")))
			} else {
				_ = lex.SeekTo(int64(len(data)))
			}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("pdf: repair found no objects")
	}
	t := &xrefTable{entries: entries, trailer: NewDict()}
	if trailer != nil {
		t.mergeTrailer(trailer)
	}
	if !t.trailer.Has("Size") {
		t.trailer.Set("Size", Integer(int64(len(entries))))
	}
	return t, nil
}
