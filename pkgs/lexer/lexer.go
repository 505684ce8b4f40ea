package lexer

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/source"
)

type mode int

const (
	modeDefault mode = iota
	modeExpectPropNodeName
	modeExpectByte
)

var (
	reInclude    = regexp.MustCompile(`^/include/\s*"(?:[^\\"]|\\.)*"`)
	reLine       = regexp.MustCompile(`^#(?:line)?[ \t]+([0-9]+)[ \t]+"((?:[^\\"]|\\.)*)"(?:[ \t]+[0-9]+)?`)
	reString     = regexp.MustCompile(`^"((?:[^\\"]|\\.)*)"`)
	reDtsV1      = regexp.MustCompile(`^/dts-v1/`)
	rePlugin     = regexp.MustCompile(`^/plugin/`)
	reMemreserve = regexp.MustCompile(`^/memreserve/`)
	reBits       = regexp.MustCompile(`^/bits/`)
	reDelProp    = regexp.MustCompile(`^/delete-property/`)
	reDelNode    = regexp.MustCompile(`^/delete-node/`)
	reOmitNoRef  = regexp.MustCompile(`^/omit-if-no-ref/`)
	reLabel      = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*):`)
	reCharLit    = regexp.MustCompile(`^'((?:[^\\']|\\.)*)'`)
	reRef        = regexp.MustCompile(`^&([a-zA-Z_][a-zA-Z0-9_]*|\{[a-zA-Z0-9,._+*#?@/-]*\})`)
	reIncbin     = regexp.MustCompile(`^/incbin/`)
	reSkip       = regexp.MustCompile(`^(?:\s+|(?s:/\*.*?\*/)|//[^\n]*)`)
	reNum        = regexp.MustCompile(`^(0[xX][0-9a-fA-F]+|[0-9]+)(?:ULL|UL|LL|U|L)?`)
	rePropName   = regexp.MustCompile(`^\\?([a-zA-Z0-9,._+*#?@-]+)`)
	reByte       = regexp.MustCompile(`^[0-9a-fA-F]{2}`)
)

// miscTokens lists punctuation in longest-match-first order so that, e.g.,
// "<<" is tried before "<".
var miscTokens = []string{
	"==", "!=", "!", "=", ",", ";", "+", "-", "*", "/", "%", "~", "?", ":",
	"^", "(", ")", "{", "}", "[", "]", "<<", "<=", "<", ">>", ">=", ">",
	"||", "|", "&&", "&",
}

// Lexer tokenizes DTS source with a single token of look-ahead, transparently
// following /include/ chains and #line directives via its source.Stack.
type Lexer struct {
	src     *source.Stack
	mode    mode
	peeked  *Token
	peekErr error
}

// New creates a Lexer reading from src.
func New(src *source.Stack) *Lexer {
	return &Lexer{src: src, mode: modeDefault}
}

// Peek returns the next token without consuming it.
func (l *Lexer) Peek() (Token, error) {
	if l.peeked == nil {
		tok, err := l.lex()
		l.peeked = &tok
		l.peekErr = err
	}
	return *l.peeked, l.peekErr
}

// Next consumes and returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.peeked != nil {
		tok, err := *l.peeked, l.peekErr
		l.peeked = nil
		l.peekErr = nil
		return tok, err
	}
	return l.lex()
}

func (l *Lexer) atLineStart() bool {
	s := l.src
	return s.Offset == 0 || (s.Offset > 0 && s.Contents[s.Offset-1] == '\n')
}

func (l *Lexer) tokenAt(kind Kind, value string) Token {
	line, col := l.src.Line, l.columnFor(l.src.Offset)
	return Token{Kind: kind, Value: value, Line: line, Column: col, File: l.src.Filename}
}

// columnFor is the 1-based byte offset from the start of the current line to
// off (the line's first byte is column 1), matching the diagnostic format's
// "column N".
func (l *Lexer) columnFor(off int) int {
	nl := strings.LastIndexByte(l.src.Contents[:off], '\n')
	return off - nl
}

func (l *Lexer) lex() (Token, error) {
	for {
		s := l.src
		rest := s.Contents[s.Offset:]

		if m := reInclude.FindString(rest); m != "" {
			l.advance(len(m))
			q1 := strings.IndexByte(m, '"')
			filename := unescapeString(m[q1+1 : len(m)-1])
			if err := s.EnterInclude(filename); err != nil {
				return Token{}, err
			}
			continue
		}

		if l.atLineStart() {
			if loc := reLine.FindStringSubmatchIndex(rest); loc != nil {
				lineNoStr := rest[loc[2]:loc[3]]
				filename := unescapeString(rest[loc[4]:loc[5]])
				l.advance(loc[1])
				n, _ := strconv.Atoi(lineNoStr)
				s.SetLine(n, filename)
				continue
			}
		}

		if loc := reDelProp.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(DELPROP, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			l.mode = modeExpectPropNodeName
			return tok, nil
		}
		if loc := reDelNode.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(DELNODE, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			l.mode = modeExpectPropNodeName
			return tok, nil
		}
		if loc := reOmitNoRef.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(OMITNOREF, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			l.mode = modeExpectPropNodeName
			return tok, nil
		}
		if loc := reMemreserve.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(MEMRESERVE, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			l.mode = modeDefault
			return tok, nil
		}
		if loc := reBits.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(BITS, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			l.mode = modeDefault
			return tok, nil
		}
		if loc := reIncbin.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(INCBIN, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reDtsV1.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(DTSV1, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			return tok, nil
		}
		if loc := rePlugin.FindStringIndex(rest); loc != nil {
			tok := l.tokenAt(PLUGIN, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reString.FindStringSubmatchIndex(rest); loc != nil {
			val := unescapeString(rest[loc[2]:loc[3]])
			tok := l.tokenAt(STRING, val)
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reLabel.FindStringSubmatchIndex(rest); loc != nil {
			tok := l.tokenAt(LABEL, rest[loc[2]:loc[3]])
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reCharLit.FindStringSubmatchIndex(rest); loc != nil {
			raw := rest[loc[2]:loc[3]]
			decoded := unescapeString(raw)
			if len(decoded) != 1 {
				return Token{}, l.errHere("character literals must be length 1")
			}
			tok := l.tokenAt(CHARLIT, decoded)
			tok.Num = big.NewInt(int64(decoded[0]))
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reRef.FindStringSubmatchIndex(rest); loc != nil {
			tok := l.tokenAt(REF, rest[loc[0]:loc[1]])
			l.advance(loc[1])
			return tok, nil
		}
		if loc := reSkip.FindStringIndex(rest); loc != nil {
			text := rest[loc[0]:loc[1]]
			s.Line += strings.Count(text, "\n")
			l.advance(loc[1])
			continue
		}

		if s.Offset >= len(s.Contents) {
			if s.LeaveFile() {
				continue
			}
			return l.tokenAt(EOF, "<EOF>"), nil
		}

		switch l.mode {
		case modeDefault:
			if loc := reNum.FindStringSubmatchIndex(rest); loc != nil {
				numStr := rest[loc[2]:loc[3]]
				n := new(big.Int)
				base := 10
				switch {
				case strings.HasPrefix(numStr, "0x") || strings.HasPrefix(numStr, "0X"):
					base = 16
					numStr = numStr[2:]
				case strings.HasPrefix(numStr, "0") && len(numStr) > 1:
					base = 8
					numStr = numStr[1:]
				}
				if _, ok := n.SetString(numStr, base); !ok {
					return Token{}, l.errHere(fmt.Sprintf("malformed number %q", rest[loc[2]:loc[3]]))
				}
				tok := l.tokenAt(NUM, rest[loc[0]:loc[1]])
				tok.Num = n
				l.advance(loc[1])
				return tok, nil
			}
		case modeExpectPropNodeName:
			if loc := rePropName.FindStringSubmatchIndex(rest); loc != nil {
				tok := l.tokenAt(PROPNODENAME, rest[loc[2]:loc[3]])
				l.advance(loc[1])
				l.mode = modeDefault
				return tok, nil
			}
		case modeExpectByte:
			if loc := reByte.FindStringIndex(rest); loc != nil {
				bstr := rest[loc[0]:loc[1]]
				v, _ := strconv.ParseUint(bstr, 16, 8)
				tok := l.tokenAt(BYTE, bstr)
				tok.Byte = byte(v)
				l.advance(loc[1])
				return tok, nil
			}
		}

		if idx, lit := matchMisc(rest); idx >= 0 {
			tok := l.tokenAt(MISC, lit)
			l.advance(idx)
			switch {
			case lit == "{" || lit == ";":
				l.mode = modeExpectPropNodeName
			case lit == "[":
				l.mode = modeExpectByte
			case lit == "]":
				l.mode = modeDefault
			}
			return tok, nil
		}

		return l.tokenAt(BAD, badTokenText(rest)), nil
	}
}

// badTokenText returns a short, printable snippet of the unrecognized input
// for BAD token diagnostics, rather than the whole remainder of the buffer.
func badTokenText(rest string) string {
	const maxLen = 16
	if i := strings.IndexAny(rest, " \t\r\n"); i >= 0 && i < maxLen {
		return rest[:i]
	}
	if len(rest) > maxLen {
		return rest[:maxLen]
	}
	return rest
}

func matchMisc(rest string) (length int, literal string) {
	for _, lit := range miscTokens {
		if strings.HasPrefix(rest, lit) {
			return len(lit), lit
		}
	}
	return -1, ""
}

func (l *Lexer) advance(n int) {
	l.src.Offset += n
}

func (l *Lexer) errHere(msg string) error {
	return dterror.AtPosition(dterror.CodeSyntax, l.src.Filename, l.src.Line, l.columnFor(l.src.Offset), msg)
}

// unescapeString applies C-style escapes: \n \t \0 \\ \" \' and 1-3 digit
// octal and \xHH hex escapes, matching the reference lexer's _unescape.
func unescapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		e := s[i]
		switch e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '\\', '"', '\'':
			b.WriteByte(e)
		case 'x':
			j := i + 1
			for j < len(s) && j < i+3 && isHex(s[j]) {
				j++
			}
			if j > i+1 {
				v, _ := strconv.ParseUint(s[i+1:j], 16, 8)
				b.WriteByte(byte(v))
				i = j - 1
			} else {
				b.WriteByte('x')
			}
		default:
			if e >= '0' && e <= '7' {
				j := i
				for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
					j++
				}
				v, _ := strconv.ParseUint(s[i:j], 8, 8)
				b.WriteByte(byte(v))
				i = j - 1
			} else {
				b.WriteByte(e)
			}
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
