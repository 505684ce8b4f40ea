// Package lexer implements the regex-driven DTS tokenizer with its three
// modes (default, expect-prop-or-node-name, expect-byte) and one-token
// look-ahead, plus transparent /include/ and #line handling.
package lexer

import (
	"fmt"
	"math/big"
)

// Kind identifies a token's lexical category.
type Kind int

const (
	EOF Kind = iota
	BAD

	INCLUDE // consumed internally; never surfaces from Next or Peek
	DTSV1
	PLUGIN
	MEMRESERVE
	BITS
	DELPROP
	DELNODE
	OMITNOREF
	INCBIN

	LABEL    // "ident:"
	REF      // "&ident" or "&{path}"
	STRING   // "..."
	CHARLIT  // 'c', decoded to its code point
	NUM      // decimal / octal / hex literal
	PROPNODENAME
	BYTE // two hex digits, EXPECT_BYTE mode only

	MISC // punctuation: ==, !=, !, =, ,, ;, +, -, *, /, %, ~, ?, :, ^, (, ), {, }, [, ], <<, <=, <, >>, >=, >, ||, |, &&, &
)

var kindNames = [...]string{
	EOF: "EOF", BAD: "BAD", INCLUDE: "INCLUDE", DTSV1: "/dts-v1/", PLUGIN: "/plugin/",
	MEMRESERVE: "/memreserve/", BITS: "/bits/", DELPROP: "/delete-property/",
	DELNODE: "/delete-node/", OMITNOREF: "/omit-if-no-ref/", INCBIN: "/incbin/",
	LABEL: "LABEL", REF: "REF", STRING: "STRING", CHARLIT: "CHARLIT", NUM: "NUM",
	PROPNODENAME: "PROPNODENAME", BYTE: "BYTE", MISC: "MISC",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is a single lexed unit. Value carries the raw or decoded text
// appropriate to Kind: for NUM/CHARLIT, Num also carries the arbitrary
// precision numeric value; for BYTE, Byte carries the decoded byte.
type Token struct {
	Kind   Kind
	Value  string
	Num    *big.Int
	Byte   byte
	Line   int
	Column int // byte offset from start of line to token start, 1-based
	File   string
}
