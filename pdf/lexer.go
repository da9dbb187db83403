package pdf

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

// TokenKind classifies lexer output.
type TokenKind int

const (
	TokNumber TokenKind = iota
	TokName
	TokString // literal or hex, escapes resolved
	TokBool
	TokNull
	TokRef // "n g R" folded into one token
	TokDictOpen
	TokDictClose
	TokArrayOpen
	TokArrayClose
	TokKeyword     // obj, endobj, stream, endstream, trailer, xref, startxref, ...
	TokInlineImage // raw bytes between ID and EI in a content stream
)

// Token is one lexical unit. Only the fields implied by Kind are set.
type Token struct {
	Kind  TokenKind
	Pos   int64
	Int   int64
	Real  float64
	IsInt bool
	Gen   int // ref generation
	Str   string
	Bytes []byte
	Bool  bool
}

// Lexer tokenizes PDF syntax from an in-memory buffer. The same lexer serves
// file bodies and decoded content streams.
type Lexer struct {
	data      []byte
	pos       int64
	maxString int64
}

// NewLexer returns a lexer over data. Limits may be zero for defaults.
func NewLexer(data []byte, lim Limits) *Lexer {
	lim = lim.withDefaults()
	return &Lexer{data: data, maxString: lim.MaxStringLength}
}

// Pos reports the current byte offset.
func (l *Lexer) Pos() int64 { return l.pos }

// SeekTo repositions the lexer.
func (l *Lexer) SeekTo(off int64) error {
	if off < 0 || off > int64(len(l.data)) {
		return errors.New("pdf: seek out of range")
	}
	l.pos = off
	return nil
}

func (l *Lexer) byteAt(off int64) (byte, bool) {
	if off < 0 || off >= int64(len(l.data)) {
		return 0, false
	}
	return l.data[off], true
}

func isWhite(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0a || c == 0x0c || c == 0x0d || c == 0x20
}

func isDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhite(c)
}

func (l *Lexer) skipSpace() error {
	for {
		c, ok := l.byteAt(l.pos)
		if !ok {
			return io.EOF
		}
		if isWhite(c) {
			l.pos++
			continue
		}
		if c == '%' { // comment runs to EOL
			for {
				l.pos++
				c, ok = l.byteAt(l.pos)
				if !ok {
					return io.EOF
				}
				if c == '\r' || c == '\n' {
					break
				}
			}
			continue
		}
		return nil
	}
}

// Next returns the next token or io.EOF.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipSpace(); err != nil {
		return Token{}, err
	}
	start := l.pos
	c, _ := l.byteAt(l.pos)
	switch {
	case c == '<':
		if n, _ := l.byteAt(l.pos + 1); n == '<' {
			l.pos += 2
			return Token{Kind: TokDictOpen, Pos: start}, nil
		}
		return l.scanHexString(start)
	case c == '>':
		if n, _ := l.byteAt(l.pos + 1); n == '>' {
			l.pos += 2
			return Token{Kind: TokDictClose, Pos: start}, nil
		}
		l.pos++
		return Token{Kind: TokKeyword, Pos: start, Str: ">"}, nil
	case c == '[':
		l.pos++
		return Token{Kind: TokArrayOpen, Pos: start}, nil
	case c == ']':
		l.pos++
		return Token{Kind: TokArrayClose, Pos: start}, nil
	case c == '(':
		return l.scanLiteralString(start)
	case c == '/':
		return l.scanName(start)
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.scanNumberOrRef(start)
	default:
		return l.scanKeyword(start)
	}
}

func (l *Lexer) scanName(start int64) (Token, error) {
	l.pos++ // '/'
	var out bytes.Buffer
	for {
		c, ok := l.byteAt(l.pos)
		if !ok || isDelim(c) {
			break
		}
		if c == '#' {
			hi, ok1 := l.byteAt(l.pos + 1)
			lo, ok2 := l.byteAt(l.pos + 2)
			if ok1 && ok2 && isHexDigit(hi) && isHexDigit(lo) {
				out.WriteByte(hexVal(hi)<<4 | hexVal(lo))
				l.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		l.pos++
	}
	return Token{Kind: TokName, Pos: start, Str: out.String()}, nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func (l *Lexer) scanLiteralString(start int64) (Token, error) {
	l.pos++ // '('
	var out bytes.Buffer
	depth := 1
	for {
		c, ok := l.byteAt(l.pos)
		if !ok {
			return Token{}, errors.New("pdf: unterminated string")
		}
		switch c {
		case '\\':
			esc, ok := l.byteAt(l.pos + 1)
			if !ok {
				return Token{}, errors.New("pdf: unterminated string escape")
			}
			l.pos += 2
			switch esc {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case 'b':
				out.WriteByte('\b')
			case 'f':
				out.WriteByte('\f')
			case '(', ')', '\\':
				out.WriteByte(esc)
			case '\r': // line continuation
				if n, ok := l.byteAt(l.pos); ok && n == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if esc >= '0' && esc <= '7' {
					v := int(esc - '0')
					for k := 0; k < 2; k++ {
						d, ok := l.byteAt(l.pos)
						if !ok || d < '0' || d > '7' {
							break
						}
						v = v<<3 + int(d-'0')
						l.pos++
					}
					out.WriteByte(byte(v))
				} else {
					out.WriteByte(esc)
				}
			}
		case '(':
			depth++
			out.WriteByte(c)
			l.pos++
		case ')':
			depth--
			l.pos++
			if depth == 0 {
				return Token{Kind: TokString, Pos: start, Bytes: out.Bytes()}, nil
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
			l.pos++
		}
		if l.maxString > 0 && int64(out.Len()) > l.maxString {
			return Token{}, errors.New("pdf: string exceeds limit")
		}
	}
}

func (l *Lexer) scanHexString(start int64) (Token, error) {
	l.pos++ // '<'
	var nibbles []byte
	for {
		c, ok := l.byteAt(l.pos)
		if !ok {
			return Token{}, errors.New("pdf: unterminated hex string")
		}
		l.pos++
		if c == '>' {
			break
		}
		if isWhite(c) {
			continue
		}
		if !isHexDigit(c) {
			continue // stray bytes tolerated, as most readers do
		}
		nibbles = append(nibbles, c)
		if l.maxString > 0 && int64(len(nibbles)/2) > l.maxString {
			return Token{}, errors.New("pdf: string exceeds limit")
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, len(nibbles)/2)
	for i := 0; i < len(out); i++ {
		out[i] = hexVal(nibbles[2*i])<<4 | hexVal(nibbles[2*i+1])
	}
	return Token{Kind: TokString, Pos: start, Bytes: out}, nil
}

func (l *Lexer) scanKeyword(start int64) (Token, error) {
	var out bytes.Buffer
	for {
		c, ok := l.byteAt(l.pos)
		if !ok || isDelim(c) {
			break
		}
		out.WriteByte(c)
		l.pos++
	}
	kw := out.String()
	switch kw {
	case "":
		// lone delimiter we do not otherwise handle ('{', '}' in functions)
		c, ok := l.byteAt(l.pos)
		if !ok {
			return Token{}, io.EOF
		}
		l.pos++
		return Token{Kind: TokKeyword, Pos: start, Str: string(c)}, nil
	case "true", "false":
		return Token{Kind: TokBool, Pos: start, Bool: kw == "true"}, nil
	case "null":
		return Token{Kind: TokNull, Pos: start}, nil
	case "ID":
		return l.scanInlineImage(start)
	default:
		return Token{Kind: TokKeyword, Pos: start, Str: kw}, nil
	}
}

func (l *Lexer) scanNumberOrRef(start int64) (Token, error) {
	first, firstInt, ok := l.scanNumber()
	if !ok {
		// a sign or dot with no digits; emit the single char as a keyword
		c, _ := l.byteAt(l.pos)
		l.pos++
		return Token{Kind: TokKeyword, Pos: start, Str: string(c)}, nil
	}
	// "n g R" lookahead: two non-negative integers followed by a lone R
	if firstInt && first.I >= 0 {
		save := l.pos
		if l.skipSpace() == nil {
			genStart := l.pos
			gen, genInt, ok2 := l.scanNumber()
			if ok2 && genInt && gen.I >= 0 && l.skipSpace() == nil {
				if c, ok3 := l.byteAt(l.pos); ok3 && c == 'R' {
					next, hasNext := l.byteAt(l.pos + 1)
					if !hasNext || isDelim(next) {
						l.pos++
						return Token{Kind: TokRef, Pos: start, Int: first.I, Gen: int(gen.I)}, nil
					}
				}
			}
			if ok2 {
				l.pos = genStart // re-lex the second number on the next call
			} else {
				l.pos = save
			}
		} else {
			l.pos = save
		}
	}
	if firstInt {
		return Token{Kind: TokNumber, Pos: start, Int: first.I, IsInt: true}, nil
	}
	return Token{Kind: TokNumber, Pos: start, Real: first.F}, nil
}

// scanNumber consumes one numeric literal, returning ok=false (position
// restored) when no digit is present. The middle result reports integerness.
func (l *Lexer) scanNumber() (Number, bool, bool) {
	start := l.pos
	var buf bytes.Buffer
	seenDigit := false
	seenDot := false
	for {
		c, ok := l.byteAt(l.pos)
		if !ok {
			break
		}
		if c >= '0' && c <= '9' {
			seenDigit = true
			buf.WriteByte(c)
			l.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			buf.WriteByte(c)
			l.pos++
			continue
		}
		if (c == '+' || c == '-') && l.pos == start {
			buf.WriteByte(c)
			l.pos++
			continue
		}
		break
	}
	if !seenDigit {
		l.pos = start
		return Number{}, false, false
	}
	s := buf.String()
	if !seenDot {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Number{I: i, IsInt: true}, true, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		l.pos = start
		return Number{}, false, false
	}
	return Number{F: f}, false, true
}

// ReadStreamBody captures a stream payload after the "stream" keyword has
// been consumed. A non-negative hint (the resolved /Length) is trusted when
// an endstream marker follows it; otherwise the body is found by scanning.
func (l *Lexer) ReadStreamBody(hint int64, maxLen int64) ([]byte, error) {
	// mandatory EOL after the keyword
	if c, ok := l.byteAt(l.pos); ok {
		if c == '\r' {
			l.pos++
			if n, ok := l.byteAt(l.pos); ok && n == '\n' {
				l.pos++
			}
		} else if c == '\n' {
			l.pos++
		}
	}
	dataStart := l.pos
	if hint >= 0 {
		if maxLen > 0 && hint > maxLen {
			return nil, errors.New("pdf: stream exceeds limit")
		}
		end := dataStart + hint
		if end <= int64(len(l.data)) && l.endstreamAt(end) {
			payload := append([]byte(nil), l.data[dataStart:end]...)
			l.pos = l.skipPastEndstream(end)
			return payload, nil
		}
		// hint was wrong; fall through to scanning
	}
	needle := []byte("endstream")
	for i := dataStart; ; i++ {
		if i+int64(len(needle)) > int64(len(l.data)) {
			// unterminated: salvage everything
			payload := append([]byte(nil), l.data[dataStart:]...)
			l.pos = int64(len(l.data))
			return payload, errors.New("pdf: endstream not found")
		}
		if maxLen > 0 && i-dataStart > maxLen {
			return nil, errors.New("pdf: stream exceeds limit")
		}
		if l.data[i] != 'e' || !bytes.Equal(l.data[i:i+int64(len(needle))], needle) {
			continue
		}
		after := i + int64(len(needle))
		if c, ok := l.byteAt(after); ok && !isDelim(c) {
			continue
		}
		end := i
		// trim the EOL that separates data from the marker
		if end > dataStart && l.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && l.data[end-1] == '\r' {
			end--
		}
		payload := append([]byte(nil), l.data[dataStart:end]...)
		l.pos = after
		return payload, nil
	}
}

func (l *Lexer) endstreamAt(off int64) bool {
	// allow the EOL that the writer placed between data and marker
	for k := 0; k < 2; k++ {
		if c, ok := l.byteAt(off); ok && (c == '\r' || c == '\n') {
			off++
		}
	}
	needle := []byte("endstream")
	if off+int64(len(needle)) > int64(len(l.data)) {
		return false
	}
	return bytes.Equal(l.data[off:off+int64(len(needle))], needle)
}

func (l *Lexer) skipPastEndstream(off int64) int64 {
	for k := 0; k < 2; k++ {
		if c, ok := l.byteAt(off); ok && (c == '\r' || c == '\n') {
			off++
		}
	}
	return off + int64(len("endstream"))
}

// scanInlineImage consumes the binary payload between ID and a
// whitespace-delimited EI.
func (l *Lexer) scanInlineImage(start int64) (Token, error) {
	if c, ok := l.byteAt(l.pos); ok && isWhite(c) {
		l.pos++
	}
	dataStart := l.pos
	for {
		c, ok := l.byteAt(l.pos)
		if !ok {
			return Token{}, errors.New("pdf: unterminated inline image")
		}
		if c == 'E' {
			if n, ok := l.byteAt(l.pos + 1); ok && n == 'I' {
				prevOK := l.pos > dataStart && isWhite(l.data[l.pos-1])
				next, hasNext := l.byteAt(l.pos + 2)
				nextOK := !hasNext || isDelim(next)
				if prevOK && nextOK {
					payload := append([]byte(nil), l.data[dataStart:l.pos]...)
					l.pos += 2
					return Token{Kind: TokInlineImage, Pos: start, Bytes: payload}, nil
				}
			}
		}
		l.pos++
	}
}
