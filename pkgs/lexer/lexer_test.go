package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aledsdavies/dts/pkgs/source"
)

type tokenExpectation struct {
	Kind  Kind
	Value string
}

func tokenize(t *testing.T, input string) []Token {
	t.Helper()
	return tokenizeFrom(t, input, modeDefault)
}

// tokenizeInBody lexes input as if it appeared right after a "{" or ";", the
// position property and node names are actually legal in -- real DTS text
// only ever reaches PROPNODENAME by way of one of those two tokens.
func tokenizeInBody(t *testing.T, input string) []Token {
	t.Helper()
	return tokenizeFrom(t, input, modeExpectPropNodeName)
}

func tokenizeFrom(t *testing.T, input string, start mode) []Token {
	t.Helper()
	src := &source.Stack{Filename: "test.dts", Contents: input, Line: 1}
	l := New(src)
	l.mode = start
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("lex error: %v", err)
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			return toks
		}
	}
}

func assertKindsAndValues(t *testing.T, name, input string, expected []tokenExpectation) {
	t.Helper()
	checkTokens(t, name, tokenize(t, input), expected)
}

func assertKindsAndValuesInBody(t *testing.T, name, input string, expected []tokenExpectation) {
	t.Helper()
	checkTokens(t, name, tokenizeInBody(t, input), expected)
}

func checkTokens(t *testing.T, name string, toks []Token, expected []tokenExpectation) {
	t.Helper()
	var got []tokenExpectation
	for _, tok := range toks {
		got = append(got, tokenExpectation{tok.Kind, tok.Value})
	}
	want := append(append([]tokenExpectation{}, expected...), tokenExpectation{EOF, "<EOF>"})

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s: token mismatch (-want +got):\n%s", name, diff)
	}
}

func TestHeaderAndPunctuation(t *testing.T) {
	assertKindsAndValues(t, "header", `/dts-v1/; / { };`, []tokenExpectation{
		{DTSV1, "/dts-v1/"},
		{MISC, ";"},
		{MISC, "/"},
		{MISC, "{"},
		{MISC, "}"},
		{MISC, ";"},
	})
}

func TestLabelsAndReferences(t *testing.T) {
	assertKindsAndValuesInBody(t, "labels and refs", `n: a { b = <&n>; };`, []tokenExpectation{
		{LABEL, "n"},
		{PROPNODENAME, "a"},
		{MISC, "{"},
		{PROPNODENAME, "b"},
		{MISC, "="},
		{MISC, "<"},
		{REF, "&n"},
		{MISC, ">"},
		{MISC, ";"},
		{MISC, "}"},
		{MISC, ";"},
	})
}

func TestPathReference(t *testing.T) {
	assertKindsAndValuesInBody(t, "path ref", `x = &{/a/b};`, []tokenExpectation{
		{PROPNODENAME, "x"},
		{MISC, "="},
		{REF, "&{/a/b}"},
		{MISC, ";"},
	})
}

func TestNumberBases(t *testing.T) {
	toks := tokenize(t, `<0x1A 012 10 5ULL>`)
	var nums []string
	for _, tok := range toks {
		if tok.Kind == NUM {
			nums = append(nums, tok.Num.String())
		}
	}
	want := []string{"26", "10", "10", "5"}
	if diff := cmp.Diff(want, nums); diff != "" {
		t.Errorf("number decoding mismatch (-want +got):\n%s", diff)
	}
}

func TestByteMode(t *testing.T) {
	assertKindsAndValuesInBody(t, "byte mode", `x = [01 AB ff];`, []tokenExpectation{
		{PROPNODENAME, "x"},
		{MISC, "="},
		{MISC, "["},
		{BYTE, "01"},
		{BYTE, "AB"},
		{BYTE, "ff"},
		{MISC, "]"},
		{MISC, ";"},
	})
}

func TestStringEscapes(t *testing.T) {
	toks := tokenize(t, `"a\nb\x41\101"`)
	if toks[0].Kind != STRING {
		t.Fatalf("expected STRING, got %s", toks[0].Kind)
	}
	want := "a\nbAA"
	if toks[0].Value != want {
		t.Errorf("escape decoding: want %q, got %q", want, toks[0].Value)
	}
}

func TestCommentsAndWhitespaceAreSkipped(t *testing.T) {
	assertKindsAndValues(t, "comments", "/dts-v1/; // trailing\n/* block\ncomment */ / {};", []tokenExpectation{
		{DTSV1, "/dts-v1/"},
		{MISC, ";"},
		{MISC, "/"},
		{MISC, "{"},
		{MISC, "}"},
		{MISC, ";"},
	})
}

func TestDeletePropertySwitchesToPropNodeNameMode(t *testing.T) {
	assertKindsAndValues(t, "delete-property", `/delete-property/ foo;`, []tokenExpectation{
		{DELPROP, "/delete-property/"},
		{PROPNODENAME, "foo"},
		{MISC, ";"},
	})
}

func TestMiscLongestMatchFirst(t *testing.T) {
	// "<<<" greedily lexes as "<<" then "<", since miscTokens lists "<<"
	// ahead of "<" and matching is leftmost-first, not longest-overall.
	assertKindsAndValues(t, "shift vs relational", `<<< <= < >> >= >`, []tokenExpectation{
		{MISC, "<<"},
		{MISC, "<"},
		{MISC, "<="},
		{MISC, "<"},
		{MISC, ">>"},
		{MISC, ">="},
		{MISC, ">"},
	})
}
