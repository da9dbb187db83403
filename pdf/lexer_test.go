package pdf

import (
	"testing"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	lex := NewLexer([]byte(src), Limits{})
	var toks []Token
	for {
		tok, err := lex.Next()
		if err != nil {
			break
		}
		toks = append(toks, tok)
	}
	return toks
}

func TestLexerTokenClasses(t *testing.T) {
	toks := lexAll(t, "/Name 42 -3.5 true false null << >> [ ] % comment\nobj")
	kinds := []TokenKind{
		TokName, TokNumber, TokNumber, TokBool, TokBool, TokNull,
		TokDictOpen, TokDictClose, TokArrayOpen, TokArrayClose, TokKeyword,
	}
	if len(toks) != len(kinds) {
		t.Fatalf("expected %d tokens, got %d", len(kinds), len(toks))
	}
	for i, want := range kinds {
		if toks[i].Kind != want {
			t.Fatalf("token %d: expected kind %d, got %d", i, want, toks[i].Kind)
		}
	}
	if toks[0].Str != "Name" {
		t.Fatalf("name token: %q", toks[0].Str)
	}
	if !toks[1].IsInt || toks[1].Int != 42 {
		t.Fatalf("integer token: %+v", toks[1])
	}
	if toks[2].IsInt || toks[2].Real != -3.5 {
		t.Fatalf("real token: %+v", toks[2])
	}
	if toks[3].Bool != true || toks[4].Bool != false {
		t.Fatalf("bool tokens: %+v %+v", toks[3], toks[4])
	}
}

func TestLexerNameEscapes(t *testing.T) {
	toks := lexAll(t, "/A#20B /Lime#47reen")
	if len(toks) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(toks))
	}
	if toks[0].Str != "A B" {
		t.Fatalf("expected %q, got %q", "A B", toks[0].Str)
	}
	if toks[1].Str != "LimeGreen" {
		t.Fatalf("expected %q, got %q", "LimeGreen", toks[1].Str)
	}
}

func TestLexerLiteralStrings(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"(plain)", "plain"},
		{"(nested (parens) balance)", "nested (parens) balance"},
		{`(esc \( \) \n\t)`, "esc ( ) \n\t"},
		{`(\101\102)`, "AB"},
		{"(line\\\ncontinued)", "linecontinued"},
		{"()", ""},
	}
	for _, tc := range cases {
		lex := NewLexer([]byte(tc.src), Limits{})
		tok, err := lex.Next()
		if err != nil {
			t.Fatalf("%q: %v", tc.src, err)
		}
		if tok.Kind != TokString {
			t.Fatalf("%q: expected string token, got kind %d", tc.src, tok.Kind)
		}
		if string(tok.Bytes) != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.src, tc.want, tok.Bytes)
		}
	}
}

func TestLexerHexStrings(t *testing.T) {
	lex := NewLexer([]byte("<48 65 6C6C 6F> <4>"), Limits{})
	tok, err := lex.Next()
	if err != nil || tok.Kind != TokString {
		t.Fatalf("hex string: %v %+v", err, tok)
	}
	if string(tok.Bytes) != "Hello" {
		t.Fatalf("expected Hello, got %q", tok.Bytes)
	}
	// odd nibble count pads with zero
	tok, err = lex.Next()
	if err != nil || string(tok.Bytes) != "\x40" {
		t.Fatalf("odd hex string: %v %q", err, tok.Bytes)
	}
}

func TestLexerFoldsReferences(t *testing.T) {
	toks := lexAll(t, "12 0 R 7 2 R 5 6")
	if len(toks) != 4 {
		t.Fatalf("expected 4 tokens, got %d", len(toks))
	}
	if toks[0].Kind != TokRef || toks[0].Int != 12 || toks[0].Gen != 0 {
		t.Fatalf("first ref: %+v", toks[0])
	}
	if toks[1].Kind != TokRef || toks[1].Int != 7 || toks[1].Gen != 2 {
		t.Fatalf("second ref: %+v", toks[1])
	}
	// a trailing pair with no R stays two numbers
	if toks[2].Kind != TokNumber || toks[3].Kind != TokNumber {
		t.Fatalf("trailing numbers: %+v %+v", toks[2], toks[3])
	}
}

func TestReadStreamBodyWithLengthHint(t *testing.T) {
	src := "stream\r\nhello world\nendstream"
	lex := NewLexer([]byte(src), Limits{})
	tok, err := lex.Next()
	if err != nil || tok.Kind != TokKeyword || tok.Str != "stream" {
		t.Fatalf("stream keyword: %v %+v", err, tok)
	}
	body, err := lex.ReadStreamBody(11, 1<<20)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("expected body, got %q", body)
	}
}

func TestReadStreamBodyScansForEndstream(t *testing.T) {
	src := "stream\nabcdef\nendstream\n"
	lex := NewLexer([]byte(src), Limits{})
	if _, err := lex.Next(); err != nil {
		t.Fatalf("keyword: %v", err)
	}
	// wrong /Length forces the endstream scan
	body, err := lex.ReadStreamBody(-1, 1<<20)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "abcdef" {
		t.Fatalf("expected abcdef, got %q", body)
	}
}
