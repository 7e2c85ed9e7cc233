package token

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func scanAndCheck(t *testing.T, source string) []Token {
	t.Helper()
	toks, err := Scan(source)
	assert(t, err == nil, "failed to scan: %s", err)
	assert(t, len(toks) > 0, "no tokens returned")
	assert(t, toks[len(toks)-1].Kind == EOF, "token stream does not end in EOF")
	return toks
}

func TestScanKinds(t *testing.T) {
	toks := scanAndCheck(t, "main() : i32 { return 2 + 3 * 4; }")

	want := []Kind{
		Ident, LParen, RParen, Colon, Ident, LBrace, KwReturn,
		IntLiteral, Plus, IntLiteral, Star, IntLiteral, Semicolon, RBrace, EOF,
	}
	assert(t, len(toks) == len(want), "got %d tokens, want %d", len(toks), len(want))
	for i, k := range want {
		assert(t, toks[i].Kind == k, "token %d: got kind %d, want %d", i, toks[i].Kind, k)
	}
}

func TestScanTwoCharPunctuation(t *testing.T) {
	toks := scanAndCheck(t, "== != <= >= && || :: < > = & |")
	want := []Kind{Eq, Neq, Leq, Geq, AmpAmp, PipePipe, ColonColon, Lt, Gt, Assign, Amp, Pipe, EOF}
	for i, k := range want {
		assert(t, toks[i].Kind == k, "token %d: got kind %d, want %d", i, toks[i].Kind, k)
	}
}

func TestScanNumbers(t *testing.T) {
	toks := scanAndCheck(t, "42 0xff 0x1234_5678_9ABC_DEF0 1_000_000")
	assert(t, toks[0].IntVal == 42, "got %d", toks[0].IntVal)
	assert(t, toks[1].IntVal == 255, "got %d", toks[1].IntVal)
	assert(t, toks[2].IntVal == 0x123456789ABCDEF0, "got %#x", toks[2].IntVal)
	assert(t, toks[3].IntVal == 1000000, "got %d", toks[3].IntVal)
}

func TestScanLiterals(t *testing.T) {
	toks := scanAndCheck(t, `'a' '\n' "hi\n" "with \"quotes\""`)
	assert(t, toks[0].Kind == CharLiteral && toks[0].IntVal == 'a', "char literal: %+v", toks[0])
	assert(t, toks[1].IntVal == '\n', "escaped char literal: %+v", toks[1])
	assert(t, toks[2].Kind == StringLiteral && toks[2].Lexeme == "hi\n", "string literal: %q", toks[2].Lexeme)
	assert(t, toks[3].Lexeme == `with "quotes"`, "string literal: %q", toks[3].Lexeme)
}

func TestScanComments(t *testing.T) {
	toks := scanAndCheck(t, "a // line comment\nb /* block\ncomment */ c")
	assert(t, len(toks) == 4, "got %d tokens", len(toks))
	assert(t, toks[0].Lexeme == "a" && toks[1].Lexeme == "b" && toks[2].Lexeme == "c", "comment text leaked into tokens")
}

func TestScanPositions(t *testing.T) {
	toks := scanAndCheck(t, "a\n  b")
	assert(t, toks[0].Pos.Line == 1 && toks[0].Pos.Column == 1, "got %s", toks[0].Pos)
	assert(t, toks[1].Pos.Line == 2 && toks[1].Pos.Column == 3, "got %s", toks[1].Pos)
	assert(t, toks[1].LineSrc == "  b", "got %q", toks[1].LineSrc)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan("/* unterminated")
	assert(t, err != nil, "unterminated block comment not rejected")

	_, err = Scan(`"unterminated`)
	assert(t, err != nil, "unterminated string not rejected")

	_, err = Scan("'ab'")
	assert(t, err != nil, "multi-character char literal not rejected")

	_, err = Scan("`")
	assert(t, err != nil, "stray character not rejected")
}
