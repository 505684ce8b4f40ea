package ast

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	om "github.com/wk8/go-ordered-map/v2"

	"github.com/aledsdavies/dts/pkgs/dterror"
)

// PropType is a property's inferred type, a pure function of its marker
// sequence (REF-LABEL markers ignored) and final value length.
type PropType int

const (
	Empty PropType = iota
	Bytes
	Num
	Nums
	String
	Strings
	Path
	Phandle
	Compound
)

func (t PropType) String() string {
	switch t {
	case Empty:
		return "EMPTY"
	case Bytes:
		return "BYTES"
	case Num:
		return "NUM"
	case Nums:
		return "NUMS"
	case String:
		return "STRING"
	case Strings:
		return "STRINGS"
	case Path:
		return "PATH"
	case Phandle:
		return "PHANDLE"
	default:
		return "COMPOUND"
	}
}

// Property is a named binary value attached to a Node.
type Property struct {
	Name  string
	Node  *Node
	Value []byte

	// Filename is the source file the property was assigned in, used for
	// accessor diagnostics. Empty for properties built outside a parse.
	Filename string

	labelSet

	// ValueLabels maps a byte offset within Value to the label declared
	// there, in insertion order.
	ValueLabels *om.OrderedMap[int, string]

	// Markers records, in offset order, where typed regions begin and where
	// unresolved references sit.
	Markers []Marker
}

// NewProperty creates an empty, unassigned property named name.
func NewProperty(name string) *Property {
	return &Property{Name: name, ValueLabels: om.New[int, string]()}
}

func (p *Property) filteredMarkers() []Marker {
	out := make([]Marker, 0, len(p.Markers))
	for _, m := range p.Markers {
		if m.Kind != RefLabel {
			out = append(out, m)
		}
	}
	return out
}

func allKind(ms []Marker, kind MarkerKind) bool {
	if len(ms) == 0 {
		return false
	}
	for _, m := range ms {
		if m.Kind != kind {
			return false
		}
	}
	return true
}

// Type computes the property's inferred type per the marker/length table.
func (p *Property) Type() PropType {
	ms := p.filteredMarkers()
	n := len(p.Value)

	switch {
	case len(ms) == 0 && n == 0:
		return Empty
	case len(ms) == 1 && ms[0].Kind == StartBytes:
		return Bytes
	case len(ms) == 1 && ms[0].Kind == StartU32 && n == 4:
		return Num
	case len(ms) == 1 && ms[0].Kind == StartU32 && n > 4:
		return Nums
	case allKind(ms, StartU32):
		return Nums
	case allKind(ms, StartString) && len(ms) == 1:
		return String
	case allKind(ms, StartString) && len(ms) > 1:
		return Strings
	case len(ms) == 1 && ms[0].Kind == RefPath:
		return Path
	case len(ms) == 2 && ms[0].Kind == StartU32 && ms[1].Kind == RefPhandle && n == 4:
		return Phandle
	default:
		return Compound
	}
}

func (p *Property) typeErr(want string) error {
	return dterror.AtAccessor(dterror.CodeAccessor, p.Filename, p.nodePath(), p.Name,
		fmt.Sprintf("property is not assignable to %s (inferred type %s)", want, p.Type()))
}

func (p *Property) nodePath() string {
	if p.Node == nil {
		return "<detached>"
	}
	return p.Node.Path()
}

// ToNum returns the property's single 32-bit cell value. Requires Type() == Num.
func (p *Property) ToNum() (uint32, error) {
	if p.Type() != Num {
		return 0, p.typeErr("a single <u32>")
	}
	return binary.BigEndian.Uint32(p.Value), nil
}

// ToNums returns every 32-bit cell of the value. Requires Type() in {Num, Nums}.
func (p *Property) ToNums() ([]uint32, error) {
	t := p.Type()
	if t != Num && t != Nums {
		return nil, p.typeErr("a list of <u32>")
	}
	out := make([]uint32, 0, len(p.Value)/4)
	for i := 0; i+4 <= len(p.Value); i += 4 {
		out = append(out, binary.BigEndian.Uint32(p.Value[i:i+4]))
	}
	return out, nil
}

// ToString returns the single null-terminated UTF-8 string. Requires Type() == String.
func (p *Property) ToString() (string, error) {
	if p.Type() != String {
		return "", p.typeErr("a string")
	}
	return decodeNulString(p.Value)
}

// ToStrings returns every null-terminated UTF-8 string, in order. Requires
// Type() == Strings (or String, for a single-entry list).
func (p *Property) ToStrings() ([]string, error) {
	t := p.Type()
	if t != String && t != Strings {
		return nil, p.typeErr("a list of strings")
	}
	var out []string
	start := 0
	for i, b := range p.Value {
		if b == 0 {
			s, err := decodeNulString(p.Value[start : i+1])
			if err != nil {
				return nil, err
			}
			out = append(out, s)
			start = i + 1
		}
	}
	return out, nil
}

func decodeNulString(b []byte) (string, error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", dterror.New(dterror.CodeUTF8, "string value is not null-terminated")
	}
	s := string(b[:len(b)-1])
	if !utf8.ValidString(s) {
		return "", dterror.New(dterror.CodeUTF8, "string value is not valid UTF-8")
	}
	return s, nil
}

// ToBytes returns the raw value. Requires Type() == Bytes.
func (p *Property) ToBytes() ([]byte, error) {
	if p.Type() != Bytes {
		return nil, p.typeErr("a byte array")
	}
	return p.Value, nil
}

// ToPath resolves a PATH- or STRING-typed value (assigned as either
// `foo = &bar;` or `foo = "/bar";`) to its target node by looking it up in
// tree.
func (p *Property) ToPath(tree *Tree) (*Node, error) {
	t := p.Type()
	if t != Path && t != String {
		return nil, p.typeErr("a path reference or path string")
	}
	path, err := decodeNulString(p.Value)
	if err != nil {
		return nil, err
	}
	n, ok := tree.NodeByPath(path)
	if !ok {
		return nil, p.typeErr(fmt.Sprintf("a resolvable path (got %q)", path))
	}
	return n, nil
}

// ToNode resolves a PHANDLE- or NUM-typed value (assigned as either
// `foo = <&bar>;` or `foo = <1>;`) to its target node via tree's phandle
// table.
func (p *Property) ToNode(tree *Tree) (*Node, error) {
	t := p.Type()
	if t != Phandle && t != Num {
		return nil, p.typeErr("a phandle reference or phandle number")
	}
	v := binary.BigEndian.Uint32(p.Value[:4])
	n, ok := tree.NodeByPhandle(v)
	if !ok {
		return nil, p.typeErr(fmt.Sprintf("a resolvable phandle (got %d)", v))
	}
	return n, nil
}

// String renders a short debug form, not the canonical serialization.
func (p *Property) String() string {
	return fmt.Sprintf("Property('%s', %s)", p.Name, p.Type())
}
