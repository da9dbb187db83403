// Package extract pulls text and table content out of parsed PDF pages by
// interpreting their content streams.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docpipe/docscan/pdf"
)

// Word is one show operation placed in device space.
type Word struct {
	Text string
	X    float64
	Y    float64
	Size float64
}

// PageText extracts and cleans the text of page i (0-based).
func PageText(ctx context.Context, doc *pdf.Document, i int) (string, error) {
	words, err := PageWords(ctx, doc, i)
	if err != nil {
		return "", err
	}
	return Clean(assemble(words)), nil
}

// PageWords interprets the content stream of page i and returns positioned
// words in stream order.
func PageWords(ctx context.Context, doc *pdf.Document, i int) ([]Word, error) {
	page := doc.Page(i)
	if page == nil {
		return nil, fmt.Errorf("extract: page %d out of range", i)
	}
	content, err := doc.PageContent(ctx, i)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, nil
	}
	fonts := pageFonts(ctx, doc, page)
	return walkContent(content, fonts), nil
}

// fontInfo is what the interpreter needs from a /Font resource.
type fontInfo struct {
	cmap *toUnicodeMap
}

func (f *fontInfo) decode(data []byte) string {
	if f != nil && f.cmap != nil {
		return f.cmap.decode(data)
	}
	if len(data) >= 2 && data[0] == 0xFE && data[1] == 0xFF {
		return utf16BEToString(data[2:])
	}
	rs := make([]rune, len(data))
	for i, c := range data {
		rs[i] = rune(c)
	}
	return string(rs)
}

func pageFonts(ctx context.Context, doc *pdf.Document, page *pdf.Page) map[pdf.Name]*fontInfo {
	if page.Resources == nil {
		return nil
	}
	fdObj, ok := page.Resources.Get("Font")
	if !ok {
		return nil
	}
	resolved, err := doc.Resolve(ctx, fdObj)
	if err != nil {
		return nil
	}
	fontsDict, ok := resolved.(*pdf.Dict)
	if !ok {
		return nil
	}
	fonts := make(map[pdf.Name]*fontInfo)
	for _, name := range fontsDict.Keys() {
		obj, _ := fontsDict.Get(name)
		fonts[name] = loadFont(ctx, doc, obj)
	}
	return fonts
}

func loadFont(ctx context.Context, doc *pdf.Document, obj pdf.Object) *fontInfo {
	resolved, err := doc.Resolve(ctx, obj)
	if err != nil {
		return nil
	}
	dict, ok := resolved.(*pdf.Dict)
	if !ok {
		return nil
	}
	info := &fontInfo{}
	if cm, ok := dict.Get("ToUnicode"); ok {
		if st, err := doc.Resolve(ctx, cm); err == nil {
			if stream, ok := st.(*pdf.Stream); ok {
				if data, err := doc.DecodeStream(ctx, stream); err == nil && len(data) > 0 {
					info.cmap = parseToUnicodeCMap(data)
				}
			}
		}
	}
	return info
}

// textState carries the pieces of PDF text state the walk tracks.
type textState struct {
	tm      matrix // text matrix
	tlm     matrix // text line matrix
	leading float64
	size    float64
	font    *fontInfo
}

// walkContent runs a reduced graphics/text state machine over a decoded
// content stream and emits one Word per show operation.
func walkContent(content []byte, fonts map[pdf.Name]*fontInfo) []Word {
	lex := pdf.NewLexer(content, pdf.Limits{})
	var operands []pdf.Object
	var words []Word

	ctm := identity
	var ctmStack []matrix
	st := textState{tm: identity, tlm: identity}

	num := func(i int) float64 {
		// operand i counted from the end
		if i >= len(operands) {
			return 0
		}
		if n, ok := operands[len(operands)-1-i].(pdf.Number); ok {
			return n.Float()
		}
		return 0
	}
	emit := func(text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		trm := st.tm.mul(ctm)
		x, y := trm.apply(0, 0)
		words = append(words, Word{Text: text, X: x, Y: y, Size: st.size * trm.scaleY()})
		// crude advance so repeated shows on one line keep their order
		st.tm = translate(0.55*st.size*float64(len([]rune(text))), 0).mul(st.tm)
	}
	decodeOperand := func(obj pdf.Object) string {
		s, ok := obj.(pdf.String)
		if !ok {
			return ""
		}
		return st.font.decode(s)
	}
	nextLine := func() {
		st.tlm = translate(0, -st.leading).mul(st.tlm)
		st.tm = st.tlm
	}

	for {
		tok, err := lex.Next()
		if err != nil {
			// mid-stream damage: keep the words read so far
			break
		}
		if tok.Kind != pdf.TokKeyword {
			if obj, ok := operandFromToken(lex, tok); ok {
				operands = append(operands, obj)
			}
			continue
		}
		switch tok.Str {
		case "q":
			ctmStack = append(ctmStack, ctm)
		case "Q":
			if n := len(ctmStack); n > 0 {
				ctm = ctmStack[n-1]
				ctmStack = ctmStack[:n-1]
			}
		case "cm":
			if len(operands) >= 6 {
				m := matrix{A: num(5), B: num(4), C: num(3), D: num(2), E: num(1), F: num(0)}
				ctm = m.mul(ctm)
			}
		case "BT":
			st.tm = identity
			st.tlm = identity
		case "ET":
		case "Tf":
			if len(operands) >= 2 {
				if name, ok := operands[len(operands)-2].(pdf.Name); ok {
					st.font = fonts[name]
				}
				st.size = num(0)
			}
		case "TL":
			st.leading = num(0)
		case "Td":
			if len(operands) >= 2 {
				st.tlm = translate(num(1), num(0)).mul(st.tlm)
				st.tm = st.tlm
			}
		case "TD":
			if len(operands) >= 2 {
				st.leading = -num(0)
				st.tlm = translate(num(1), num(0)).mul(st.tlm)
				st.tm = st.tlm
			}
		case "Tm":
			if len(operands) >= 6 {
				st.tlm = matrix{A: num(5), B: num(4), C: num(3), D: num(2), E: num(1), F: num(0)}
				st.tm = st.tlm
			}
		case "T*":
			nextLine()
		case "Tj":
			if len(operands) >= 1 {
				emit(decodeOperand(operands[len(operands)-1]))
			}
		case "'":
			if len(operands) >= 1 {
				nextLine()
				emit(decodeOperand(operands[len(operands)-1]))
			}
		case "\"":
			if len(operands) >= 3 {
				nextLine()
				emit(decodeOperand(operands[len(operands)-1]))
			}
		case "TJ":
			if len(operands) >= 1 {
				if arr, ok := operands[len(operands)-1].(*pdf.Array); ok {
					emit(joinTJ(arr, st.font))
				}
			}
		}
		operands = operands[:0]
	}
	return words
}

// joinTJ flattens a TJ array; kerning adjustments beyond a third of an em
// become word spaces.
func joinTJ(arr *pdf.Array, font *fontInfo) string {
	var out strings.Builder
	for i := 0; i < arr.Len(); i++ {
		switch v := arr.At(i).(type) {
		case pdf.String:
			out.WriteString(font.decode(v))
		case pdf.Number:
			if v.Float() < -180 {
				out.WriteByte(' ')
			}
		}
	}
	return out.String()
}

// operandFromToken turns a non-keyword token back into an object, descending
// into arrays and dicts where the token opens one.
func operandFromToken(lex *pdf.Lexer, tok pdf.Token) (pdf.Object, bool) {
	switch tok.Kind {
	case pdf.TokNumber:
		if tok.IsInt {
			return pdf.Integer(tok.Int), true
		}
		return pdf.Real(tok.Real), true
	case pdf.TokString:
		return pdf.String(tok.Bytes), true
	case pdf.TokName:
		return pdf.Name(tok.Str), true
	case pdf.TokBool:
		return pdf.Bool(tok.Bool), true
	case pdf.TokNull:
		return pdf.Null{}, true
	case pdf.TokArrayOpen:
		arr := &pdf.Array{}
		for {
			t, err := lex.Next()
			if err != nil || t.Kind == pdf.TokArrayClose {
				return arr, true
			}
			if item, ok := operandFromToken(lex, t); ok {
				arr.Append(item)
			}
		}
	case pdf.TokDictOpen:
		d := pdf.NewDict()
		var key pdf.Name
		haveKey := false
		for {
			t, err := lex.Next()
			if err != nil || t.Kind == pdf.TokDictClose {
				return d, true
			}
			if !haveKey {
				if t.Kind == pdf.TokName {
					key = pdf.Name(t.Str)
					haveKey = true
				}
				continue
			}
			if val, ok := operandFromToken(lex, t); ok {
				d.Set(key, val)
			}
			haveKey = false
		}
	}
	return nil, false
}

// assemble groups words into baselines and renders them top to bottom,
// left to right.
func assemble(words []Word) string {
	lines := groupLines(words)
	var out strings.Builder
	for i, ln := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		for j, w := range ln.words {
			if j > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(w.Text)
		}
	}
	return out.String()
}

type line struct {
	y     float64
	words []Word
}

// groupLines buckets words whose baselines sit within half the font size of
// each other, then orders lines top to bottom and words left to right.
func groupLines(words []Word) []line {
	var lines []line
	for _, w := range words {
		tol := w.Size * 0.5
		if tol < 2 {
			tol = 2
		}
		placed := false
		for i := range lines {
			d := lines[i].y - w.Y
			if d < 0 {
				d = -d
			}
			if d <= tol {
				lines[i].words = append(lines[i].words, w)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, line{y: w.Y, words: []Word{w}})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })
	for i := range lines {
		ws := lines[i].words
		sort.SliceStable(ws, func(a, b int) bool { return ws[a].X < ws[b].X })
	}
	return lines
}
