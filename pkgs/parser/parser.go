// Package parser implements the recursive-descent DTS parser: it consumes
// tokens from pkgs/lexer, materializes the ast.Tree's nodes and properties,
// and records deferred cross-references as value-offset markers for the
// fixup package to resolve afterward.
package parser

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aledsdavies/dts/pkgs/ast"
	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/eval"
	"github.com/aledsdavies/dts/pkgs/fixup"
	"github.com/aledsdavies/dts/pkgs/lexer"
	"github.com/aledsdavies/dts/pkgs/source"
)

// Parser holds parse-time state: the lexer, the source buffer it reads from
// (needed for /incbin/ file resolution), and the tree under construction.
type Parser struct {
	lx   *lexer.Lexer
	src  *source.Stack
	tree *ast.Tree
}

// Parse reads filename (resolving /include/s against includePaths), builds
// the raw tree, and runs the fixup passes so callers always receive a fully
// resolved tree: phandles allocated, references patched, aliases and labels
// registered, and unreferenced /omit-if-no-ref/ nodes pruned.
func Parse(filename string, includePaths []string) (*ast.Tree, error) {
	src, err := source.New(filename, includePaths)
	if err != nil {
		return nil, err
	}
	p := &Parser{
		lx:   lexer.New(src),
		src:  src,
		tree: ast.NewTree(),
	}
	p.tree.Root.Filename = filename
	if err := p.parseTop(); err != nil {
		return nil, err
	}
	if err := fixup.Run(p.tree); err != nil {
		return nil, err
	}
	return p.tree, nil
}

func (p *Parser) errAt(tok lexer.Token, msg string) error {
	return dterror.AtPosition(dterror.CodeSyntax, tok.File, tok.Line, tok.Column, msg)
}

func (p *Parser) next() (lexer.Token, error) { return p.checkBad(p.lx.Next()) }
func (p *Parser) peek() (lexer.Token, error) { return p.checkBad(p.lx.Peek()) }

// checkBad turns a BAD token -- input matching none of the lexer's mode
// regexes -- into a CodeBadToken diagnostic instead of letting it fall
// through to a generic "expected X" syntax error.
func (p *Parser) checkBad(tok lexer.Token, err error) (lexer.Token, error) {
	if err != nil {
		return tok, err
	}
	if tok.Kind == lexer.BAD {
		return tok, dterror.AtPosition(dterror.CodeBadToken, tok.File, tok.Line, tok.Column,
			fmt.Sprintf("unrecognized input %q", tok.Value))
	}
	return tok, nil
}

func (p *Parser) expectMisc(val string) (lexer.Token, error) {
	tok, err := p.next()
	if err != nil {
		return tok, err
	}
	if tok.Kind != lexer.MISC || tok.Value != val {
		return tok, p.errAt(tok, "expected '"+val+"', not '"+tok.Value+"'")
	}
	return tok, nil
}

func (p *Parser) checkMisc(val string) (bool, error) {
	tok, err := p.peek()
	if err != nil {
		return false, err
	}
	if tok.Kind == lexer.MISC && tok.Value == val {
		if _, err := p.next(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (p *Parser) expectPropNodeName() (string, error) {
	tok, err := p.next()
	if err != nil {
		return "", err
	}
	if tok.Kind != lexer.PROPNODENAME {
		return "", p.errAt(tok, "expected node or property name")
	}
	return tok.Value, nil
}

// parseTop implements the grammar in spec.md §4.3: one or more /dts-v1/;,
// zero or more labeled /memreserve/ entries, then a sequence of top-level
// items.
func (p *Parser) parseTop() error {
	if err := p.parseHeader(); err != nil {
		return err
	}
	if err := p.parseMemReserves(); err != nil {
		return err
	}

	for {
		tok, err := p.next()
		if err != nil {
			return err
		}

		switch {
		case tok.Kind == lexer.MISC && tok.Value == "/":
			if err := p.parseNodeBody(p.tree.Root); err != nil {
				return err
			}

		case tok.Kind == lexer.LABEL || tok.Kind == lexer.REF:
			var label string
			refTok := tok
			if tok.Kind == lexer.LABEL {
				label = tok.Value
				refTok, err = p.next()
				if err != nil {
					return err
				}
				if refTok.Kind != lexer.REF {
					return p.errAt(refTok, "expected label reference (&foo)")
				}
			}
			node, err := p.ref2node(refTok.Value, refTok)
			if err != nil {
				return err
			}
			if err := p.parseNodeBody(node); err != nil {
				return err
			}
			if label != "" {
				node.Add(label)
			}

		case tok.Kind == lexer.DELNODE:
			n, err := p.nextRefNode()
			if err != nil {
				return err
			}
			if n.Parent != nil {
				n.Parent.DeleteChild(n.Name)
			}
			if _, err := p.expectMisc(";"); err != nil {
				return err
			}

		case tok.Kind == lexer.OMITNOREF:
			n, err := p.nextRefNode()
			if err != nil {
				return err
			}
			n.OmitIfNoRef = true
			if _, err := p.expectMisc(";"); err != nil {
				return err
			}

		case tok.Kind == lexer.EOF:
			return nil

		default:
			return p.errAt(tok, "expected '/' or label reference (&foo)")
		}
	}
}

func (p *Parser) parseHeader() error {
	sawV1 := false
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.Kind != lexer.DTSV1 {
			break
		}
		sawV1 = true
		if _, err := p.next(); err != nil {
			return err
		}
		if _, err := p.expectMisc(";"); err != nil {
			return err
		}
		tok, err = p.peek()
		if err != nil {
			return err
		}
		if tok.Kind == lexer.PLUGIN {
			return dterror.New(dterror.CodePlugin, "/plugin/ is not supported")
		}
	}
	if !sawV1 {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		return p.errAt(tok, "expected '/dts-v1/;' at start of file")
	}
	return nil
}

func (p *Parser) parseMemReserves() error {
	for {
		var labels []string
		for {
			tok, err := p.peek()
			if err != nil {
				return err
			}
			if tok.Kind != lexer.LABEL {
				break
			}
			p.next()
			labels = appendNoDup(labels, tok.Value)
		}

		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.Kind != lexer.MEMRESERVE {
			if len(labels) > 0 {
				return p.errAt(tok, "expected /memreserve/ after labels at beginning of file")
			}
			return nil
		}
		p.next()

		addr, err := eval.Eval(p.lx)
		if err != nil {
			return err
		}
		length, err := eval.Eval(p.lx)
		if err != nil {
			return err
		}
		if _, err := p.expectMisc(";"); err != nil {
			return err
		}
		p.tree.MemReserves = append(p.tree.MemReserves, ast.MemReserve{
			Labels:  labels,
			Address: addr.Uint64(),
			Length:  length.Uint64(),
		})
	}
}

// parseNodeBody parses the "{ ... };" following a node reference, mutating
// node in place.
func (p *Parser) parseNodeBody(node *ast.Node) error {
	if _, err := p.expectMisc("{"); err != nil {
		return err
	}

	for {
		labels, omit, err := p.parsePendingLabels()
		if err != nil {
			return err
		}

		tok, err := p.next()
		if err != nil {
			return err
		}

		switch {
		case tok.Kind == lexer.PROPNODENAME:
			nameTok := tok
			if strings.Count(nameTok.Value, "@") > 1 {
				return dterror.AtPosition(dterror.CodeNodeName, nameTok.File, nameTok.Line, nameTok.Column,
					"node name '"+nameTok.Value+"' has more than one '@'")
			}

			peeked, err := p.peek()
			if err != nil {
				return err
			}
			if peeked.Kind == lexer.MISC && peeked.Value == "{" {
				child := node.EnsureChild(nameTok.Value)
				if child.Filename == "" {
					child.Filename = nameTok.File
				}
				for _, l := range labels {
					child.Add(l)
				}
				if omit {
					child.OmitIfNoRef = true
				}
				if err := p.parseNodeBody(child); err != nil {
					return err
				}
				continue
			}

			if omit {
				return p.errAt(nameTok, "/omit-if-no-ref/ can only be used on nodes")
			}

			prop := ast.NewProperty(nameTok.Value)
			prop.Filename = nameTok.File
			hasEq, err := p.checkMisc("=")
			if err != nil {
				return err
			}
			if hasEq {
				if err := p.parseAssignment(prop); err != nil {
					return err
				}
			} else {
				hasSemi, err := p.checkMisc(";")
				if err != nil {
					return err
				}
				if !hasSemi {
					return p.errAt(nameTok, "expected '{', '=', or ';'")
				}
			}
			for _, l := range labels {
				prop.Add(l)
			}
			node.SetProperty(prop)

		case tok.Kind == lexer.DELNODE:
			name, err := p.expectPropNodeName()
			if err != nil {
				return err
			}
			node.DeleteChild(name)
			if _, err := p.expectMisc(";"); err != nil {
				return err
			}

		case tok.Kind == lexer.DELPROP:
			name, err := p.expectPropNodeName()
			if err != nil {
				return err
			}
			node.DeleteProperty(name)
			if _, err := p.expectMisc(";"); err != nil {
				return err
			}

		case tok.Kind == lexer.MISC && tok.Value == "}":
			if _, err := p.expectMisc(";"); err != nil {
				return err
			}
			return nil

		default:
			return p.errAt(tok, "expected node name, property name, or '}'")
		}
	}
}

// parsePendingLabels collects LABEL tokens and an optional /omit-if-no-ref/
// flag preceding a node or property name.
func (p *Parser) parsePendingLabels() ([]string, bool, error) {
	var labels []string
	omit := false
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, false, err
		}
		switch {
		case tok.Kind == lexer.LABEL:
			labels = appendNoDup(labels, tok.Value)
		case tok.Kind == lexer.OMITNOREF:
			omit = true
		case (len(labels) > 0 || omit) && tok.Kind != lexer.PROPNODENAME:
			return nil, false, p.errAt(tok, "expected node or property name")
		default:
			return labels, omit, nil
		}
		if _, err := p.next(); err != nil {
			return nil, false, err
		}
	}
}

// parseAssignment parses the right-hand side of a property assignment: a
// comma-separated sequence of typed chunks, appending bytes and markers to
// prop.
func (p *Parser) parseAssignment(prop *ast.Property) error {
	prop.Value = nil
	prop.Markers = nil

	for {
		if err := p.parseValueLabels(prop); err != nil {
			return err
		}

		tok, err := p.next()
		if err != nil {
			return err
		}

		switch {
		case tok.Kind == lexer.MISC && tok.Value == "<":
			if err := p.parseCells(prop, 4); err != nil {
				return err
			}

		case tok.Kind == lexer.BITS:
			nTok, err := p.next()
			if err != nil {
				return err
			}
			if nTok.Kind != lexer.NUM {
				return p.errAt(nTok, "expected number")
			}
			n := nTok.Num.Int64()
			if n != 8 && n != 16 && n != 32 && n != 64 {
				return p.errAt(nTok, "expected 8, 16, 32, or 64")
			}
			if _, err := p.expectMisc("<"); err != nil {
				return err
			}
			if err := p.parseCells(prop, int(n/8)); err != nil {
				return err
			}

		case tok.Kind == lexer.MISC && tok.Value == "[":
			if err := p.parseBytes(prop); err != nil {
				return err
			}

		case tok.Kind == lexer.STRING:
			prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.StartString})
			prop.Value = append(prop.Value, []byte(tok.Value)...)
			prop.Value = append(prop.Value, 0)

		case tok.Kind == lexer.REF:
			prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.RefPath, Ref: tok.Value})

		case tok.Kind == lexer.INCBIN:
			if err := p.parseIncbin(prop); err != nil {
				return err
			}

		default:
			return p.errAt(tok, "malformed value")
		}

		if err := p.parseValueLabels(prop); err != nil {
			return err
		}

		tok, err = p.next()
		if err != nil {
			return err
		}
		if tok.Kind == lexer.MISC && tok.Value == ";" {
			return nil
		}
		if tok.Kind == lexer.MISC && tok.Value == "," {
			continue
		}
		return p.errAt(tok, "expected ';' or ','")
	}
}

func startKindFor(nBytes int) ast.MarkerKind {
	switch nBytes {
	case 1:
		return ast.StartBytes
	case 2:
		return ast.StartU16
	case 4:
		return ast.StartU32
	default:
		return ast.StartU64
	}
}

// parseCells parses the contents of "< ... >" with nBytes-wide elements.
func (p *Parser) parseCells(prop *ast.Property, nBytes int) error {
	prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: startKindFor(nBytes)})

	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		switch {
		case tok.Kind == lexer.REF:
			p.next()
			if nBytes != 4 {
				return p.errAt(tok, "phandle references are only allowed in arrays with 32-bit elements")
			}
			prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.RefPhandle, Ref: tok.Value})
			prop.Value = append(prop.Value, make([]byte, 4)...)

		case tok.Kind == lexer.LABEL:
			p.next()
			prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.RefLabel, Ref: tok.Value})

		case tok.Kind == lexer.MISC && tok.Value == ">":
			p.next()
			return nil

		default:
			// A cell is a number, a character literal, or a parenthesized
			// expression, so the closing '>' is never read as an operator.
			p.next()
			num := tok.Num
			if tok.Kind == lexer.MISC && tok.Value == "(" {
				if num, err = eval.Eval(p.lx); err != nil {
					return err
				}
				if _, err := p.expectMisc(")"); err != nil {
					return err
				}
			} else if tok.Kind != lexer.NUM && tok.Kind != lexer.CHARLIT {
				return p.errAt(tok, "expected number, character literal, '(', or '>'")
			}
			b, ok := fitBigEndian(num, nBytes)
			if !ok {
				return p.errAt(tok, numOverflowMsg(num, nBytes))
			}
			prop.Value = append(prop.Value, b...)
		}
	}
}

func numOverflowMsg(v *big.Int, nBytes int) string {
	return v.String() + " does not fit in " + itoa(8*nBytes) + " bits"
}

func itoa(n int) string {
	return big.NewInt(int64(n)).String()
}

// fitBigEndian encodes v into nBytes big-endian bytes if v fits in either the
// unsigned or the signed range for that width; it returns ok=false if it
// fits neither.
func fitBigEndian(v *big.Int, nBytes int) ([]byte, bool) {
	bits := uint(nBytes * 8)
	unsignedMax := new(big.Int).Lsh(big.NewInt(1), bits)
	signedMin := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), bits-1))
	signedMax := new(big.Int).Lsh(big.NewInt(1), bits-1)

	fitsUnsigned := v.Sign() >= 0 && v.Cmp(unsignedMax) < 0
	fitsSigned := v.Cmp(signedMin) >= 0 && v.Cmp(signedMax) < 0
	if !fitsUnsigned && !fitsSigned {
		return nil, false
	}

	mod := new(big.Int).Mod(v, unsignedMax)
	buf := make([]byte, nBytes)
	mod.FillBytes(buf)
	return buf, true
}

func (p *Parser) parseBytes(prop *ast.Property) error {
	prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.StartBytes})
	for {
		tok, err := p.next()
		if err != nil {
			return err
		}
		switch {
		case tok.Kind == lexer.BYTE:
			prop.Value = append(prop.Value, tok.Byte)
		case tok.Kind == lexer.LABEL:
			prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.RefLabel, Ref: tok.Value})
		case tok.Kind == lexer.MISC && tok.Value == "]":
			return nil
		default:
			return p.errAt(tok, "expected two-digit byte or ']'")
		}
	}
}

func (p *Parser) parseIncbin(prop *ast.Property) error {
	prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.StartBytes})

	if _, err := p.expectMisc("("); err != nil {
		return err
	}
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.Kind != lexer.STRING {
		return p.errAt(tok, "expected quoted filename")
	}
	filename := tok.Value

	tok, err = p.next()
	if err != nil {
		return err
	}
	var offset, size *big.Int
	if tok.Kind == lexer.MISC && tok.Value == "," {
		offset, err = eval.Eval(p.lx)
		if err != nil {
			return err
		}
		if _, err := p.expectMisc(","); err != nil {
			return err
		}
		size, err = eval.Eval(p.lx)
		if err != nil {
			return err
		}
		if _, err := p.expectMisc(")"); err != nil {
			return err
		}
	} else if !(tok.Kind == lexer.MISC && tok.Value == ")") {
		return p.errAt(tok, "expected ',' or ')'")
	}

	data, err := p.src.ReadRelative(filename)
	if err != nil {
		return dterror.Wrap(dterror.CodeIO, "could not read '"+filename+"'", err)
	}
	if offset != nil {
		o := offset.Int64()
		s := size.Int64()
		if o < 0 || o > int64(len(data)) {
			o = int64(len(data))
		}
		end := o + s
		if end > int64(len(data)) || end < o {
			end = int64(len(data))
		}
		data = data[o:end]
	}
	prop.Value = append(prop.Value, data...)
	return nil
}

func (p *Parser) parseValueLabels(prop *ast.Property) error {
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.Kind != lexer.LABEL {
			return nil
		}
		prop.Markers = append(prop.Markers, ast.Marker{Offset: len(prop.Value), Kind: ast.RefLabel, Ref: tok.Value})
		if _, err := p.next(); err != nil {
			return err
		}
	}
}

func (p *Parser) nextRefNode() (*ast.Node, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.Kind != lexer.REF {
		return nil, p.errAt(tok, "expected label reference (&foo) or path")
	}
	return p.ref2node(tok.Value, tok)
}

// ref2node resolves a "&label" or "&{/path}" reference token at parse time,
// used for the top-level "&ref { ... };" / delete-node / omit-if-no-ref
// forms. Inside property values, references are left as markers and resolved
// later by the fixup package.
func (p *Parser) ref2node(s string, tok lexer.Token) (*ast.Node, error) {
	if strings.HasPrefix(s, "&{") {
		path := s[2 : len(s)-1]
		n, ok := p.tree.NodeByPath(path)
		if !ok {
			return nil, p.errAt(tok, "path '"+path+"' does not exist")
		}
		return n, nil
	}
	label := s[1:]
	var found *ast.Node
	p.tree.NodeIter(func(n *ast.Node) {
		if found != nil {
			return
		}
		for _, l := range n.Labels() {
			if l == label {
				found = n
				return
			}
		}
	})
	if found == nil {
		return nil, p.errAt(tok, "undefined node label '"+label+"'")
	}
	return found, nil
}

func appendNoDup(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
