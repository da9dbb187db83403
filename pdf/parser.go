package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// tokenReader adds pushback on top of a lexer.
type tokenReader struct {
	lex     *Lexer
	pending []Token
}

func newTokenReader(lex *Lexer) *tokenReader { return &tokenReader{lex: lex} }

func (tr *tokenReader) next() (Token, error) {
	if n := len(tr.pending); n > 0 {
		tok := tr.pending[n-1]
		tr.pending = tr.pending[:n-1]
		return tok, nil
	}
	return tr.lex.Next()
}

func (tr *tokenReader) unread(tok Token) { tr.pending = append(tr.pending, tok) }

// parseObject reads one object from tr.
func parseObject(tr *tokenReader, lim Limits, strat Strategy, loc Location) (Object, error) {
	return parseObjectAt(tr, lim, strat, loc, 0)
}

func parseObjectAt(tr *tokenReader, lim Limits, strat Strategy, loc Location, depth int) (Object, error) {
	if depth > lim.MaxNest {
		return nil, errors.New("pdf: nesting exceeds limit")
	}
	tok, err := tr.next()
	if err != nil {
		return nil, err
	}
	switch tok.Kind {
	case TokName:
		return Name(tok.Str), nil
	case TokNumber:
		if tok.IsInt {
			return Number{I: tok.Int, IsInt: true}, nil
		}
		return Number{F: tok.Real}, nil
	case TokBool:
		return Bool(tok.Bool), nil
	case TokNull:
		return Null{}, nil
	case TokString:
		return String(tok.Bytes), nil
	case TokRef:
		return Ref{Num: int(tok.Int), Gen: tok.Gen}, nil
	case TokArrayOpen:
		return parseArray(tr, lim, strat, loc, depth+1)
	case TokDictOpen:
		return parseDict(tr, lim, strat, loc, depth+1)
	default:
		return nil, fmt.Errorf("pdf: unexpected token %q at %d", tok.Str, tok.Pos)
	}
}

func parseArray(tr *tokenReader, lim Limits, strat Strategy, loc Location, depth int) (Object, error) {
	arr := &Array{}
	for {
		tok, err := tr.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// unterminated array: lenient callers keep what was read
				if ferr := strat.OnFault(errors.New("unterminated array"), loc); ferr != nil {
					return nil, ferr
				}
				return arr, nil
			}
			return nil, err
		}
		if tok.Kind == TokArrayClose {
			return arr, nil
		}
		tr.unread(tok)
		item, err := parseObjectAt(tr, lim, strat, loc, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func parseDict(tr *tokenReader, lim Limits, strat Strategy, loc Location, depth int) (Object, error) {
	d := NewDict()
	for {
		tok, err := tr.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ferr := strat.OnFault(errors.New("unterminated dict"), loc); ferr != nil {
					return nil, ferr
				}
				return d, nil
			}
			return nil, err
		}
		if tok.Kind == TokDictClose {
			return d, nil
		}
		if tok.Kind != TokName {
			// a writer forgot ">>"; endobj/stream mean the dict is over
			if tok.Kind == TokKeyword && (tok.Str == "endobj" || tok.Str == "stream") {
				if ferr := strat.OnFault(errors.New("dict missing >>"), loc); ferr != nil {
					return nil, ferr
				}
				tr.unread(tok)
				return d, nil
			}
			return nil, fmt.Errorf("pdf: expected name key at %d", tok.Pos)
		}
		key := Name(tok.Str)
		val, err := parseObjectAt(tr, lim, strat, loc, depth)
		if err != nil {
			return nil, err
		}
		d.Set(key, val)
	}
}

// Loader materializes indirect objects on demand, caching what it parses.
// Safe for concurrent use.
type Loader struct {
	data  []byte
	xref  *xrefTable
	lim   Limits
	strat Strategy
	pipe  Pipeline

	mu      sync.Mutex
	cache   map[Ref]Object
	objstm  map[int]map[int]Object
	loading map[int]bool
}

func newLoader(data []byte, xref *xrefTable, lim Limits, strat Strategy) *Loader {
	return &Loader{
		data:    data,
		xref:    xref,
		lim:     lim.withDefaults(),
		strat:   strat,
		pipe:    Pipeline{Limits: lim.withDefaults()},
		cache:   make(map[Ref]Object),
		objstm:  make(map[int]map[int]Object),
		loading: make(map[int]bool),
	}
}

// Load returns the object ref points at. Per ISO 32000, a reference to a
// missing object reads as null.
func (ld *Loader) Load(ctx context.Context, ref Ref) (Object, error) {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.loadLocked(ctx, ref, 0)
}

// Resolve dereferences obj until it is a direct object.
func (ld *Loader) Resolve(ctx context.Context, obj Object) (Object, error) {
	for depth := 0; depth <= ld.lim.MaxIndirectDepth; depth++ {
		ref, ok := obj.(Ref)
		if !ok {
			return obj, nil
		}
		var err error
		obj, err = ld.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	return nil, errors.New("pdf: reference chain exceeds limit")
}

func (ld *Loader) loadLocked(ctx context.Context, ref Ref, depth int) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth > ld.lim.MaxIndirectDepth {
		return nil, errors.New("pdf: reference chain exceeds limit")
	}
	if obj, ok := ld.cache[ref]; ok {
		return obj, nil
	}
	if ld.loading[ref.Num] {
		// reference cycle (e.g. /Length pointing back at its own stream)
		return Null{}, nil
	}
	ld.loading[ref.Num] = true
	defer delete(ld.loading, ref.Num)

	var obj Object
	if off, gen, ok := ld.xref.lookup(ref.Num); ok {
		var err error
		obj, err = ld.parseAt(ctx, off, ref.Num, gen, depth)
		if err != nil {
			return nil, err
		}
	} else if stmNum, idx, ok := ld.xref.inObjectStream(ref.Num); ok {
		var err error
		obj, err = ld.loadFromObjectStream(ctx, ref, stmNum, idx, depth)
		if err != nil {
			if ferr := ld.strat.OnFault(err, Location{Object: ref.Num, Component: "objstm"}); ferr != nil {
				return nil, ferr
			}
			obj = Null{}
		}
	} else {
		obj = Null{}
	}
	ld.cache[ref] = obj
	return obj, nil
}

// parseAt parses "num gen obj ..." at a byte offset. Faults degrade to Null
// under a lenient strategy and abort under a strict one.
func (ld *Loader) parseAt(ctx context.Context, off int64, num, gen int, depth int) (Object, error) {
	loc := Location{Offset: off, Object: num, Component: "object"}
	fault := func(err error) (Object, error) {
		if ferr := ld.strat.OnFault(err, loc); ferr != nil {
			return nil, ferr
		}
		return Null{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lex := NewLexer(ld.data, ld.lim)
	if err := lex.SeekTo(off); err != nil {
		return fault(err)
	}
	tr := newTokenReader(lex)

	tokNum, err := tr.next()
	if err != nil || tokNum.Kind != TokNumber || !tokNum.IsInt || int(tokNum.Int) != num {
		return fault(fmt.Errorf("object header mismatch at %d", off))
	}
	tokGen, err := tr.next()
	if err != nil || tokGen.Kind != TokNumber || !tokGen.IsInt {
		return fault(fmt.Errorf("object header mismatch at %d", off))
	}
	tokObj, err := tr.next()
	if err != nil || tokObj.Kind != TokKeyword || tokObj.Str != "obj" {
		return fault(fmt.Errorf("expected obj keyword at %d", off))
	}

	obj, err := parseObject(tr, ld.lim, ld.strat, loc)
	if err != nil {
		return fault(err)
	}
	dict, isDict := obj.(*Dict)
	if !isDict {
		return obj, nil
	}
	tok, err := tr.next()
	if err != nil || tok.Kind != TokKeyword || tok.Str != "stream" {
		return dict, nil
	}
	hint := int64(-1)
	if lv, ok := dict.Get("Length"); ok {
		switch v := lv.(type) {
		case Number:
			hint = v.Int()
		case Ref:
			if lo, lerr := ld.loadLocked(ctx, v, depth+1); lerr == nil {
				if n, isNum := lo.(Number); isNum {
					hint = n.Int()
				}
			}
		}
	}
	body, berr := lex.ReadStreamBody(hint, ld.lim.MaxStreamLength)
	if berr != nil {
		if ferr := ld.strat.OnFault(berr, loc); ferr != nil {
			return nil, ferr
		}
		// lenient: keep whatever was salvaged
	}
	return NewStream(dict, body), nil
}

// loadFromObjectStream parses the requested object out of a /Type /ObjStm
// container, memoizing every object the container holds.
func (ld *Loader) loadFromObjectStream(ctx context.Context, ref Ref, stmNum, idx int, depth int) (Object, error) {
	if objs, ok := ld.objstm[stmNum]; ok {
		if obj, ok2 := objs[ref.Num]; ok2 {
			return obj, nil
		}
		return Null{}, nil
	}
	container, err := ld.loadLocked(ctx, Ref{Num: stmNum}, depth+1)
	if err != nil {
		return nil, err
	}
	st, ok := container.(*Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", stmNum)
	}
	data, err := ld.pipe.DecodeStream(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("decode object stream %d: %w", stmNum, err)
	}
	n, _ := st.Dict.Int("N")
	first, _ := st.Dict.Int("First")
	if first < 0 || first > int64(len(data)) || n <= 0 {
		return nil, fmt.Errorf("object stream %d header out of range", stmNum)
	}
	loc := Location{Object: stmNum, Component: "objstm"}

	// header: n pairs of "objnum offset"
	hdr := newTokenReader(NewLexer(data[:first], ld.lim))
	pairs := make([]int64, 0, 2*n)
	for int64(len(pairs)) < 2*n {
		tok, err := hdr.next()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", stmNum, err)
		}
		if tok.Kind != TokNumber || !tok.IsInt {
			continue
		}
		pairs = append(pairs, tok.Int)
	}
	body := data[first:]
	objs := make(map[int]Object, n)
	for i := int64(0); i < n; i++ {
		objNum := int(pairs[2*i])
		off := pairs[2*i+1]
		if off < 0 || off > int64(len(body)) {
			if ferr := ld.strat.OnFault(fmt.Errorf("object %d offset out of range", objNum), loc); ferr != nil {
				return nil, ferr
			}
			continue
		}
		tr := newTokenReader(NewLexer(body[off:], ld.lim))
		obj, err := parseObject(tr, ld.lim, ld.strat, Location{Object: objNum, Component: "objstm"})
		if err != nil {
			if ferr := ld.strat.OnFault(err, loc); ferr != nil {
				return nil, ferr
			}
			continue
		}
		objs[objNum] = obj
	}
	ld.objstm[stmNum] = objs
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return Null{}, nil
}
