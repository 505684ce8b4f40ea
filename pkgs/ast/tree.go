package ast

import (
	"fmt"
	"strings"

	om "github.com/wk8/go-ordered-map/v2"

	"github.com/aledsdavies/dts/pkgs/dterror"
)

// ValueLabelRef names the property and byte offset a value-label points at.
type ValueLabelRef struct {
	Property *Property
	Offset   int
}

// MemReserve is one entry of a /memreserve/ list: a set of leading labels,
// a 64-bit address, and a 64-bit length.
type MemReserve struct {
	Labels  []string
	Address uint64
	Length  uint64
}

// Tree is the parsed, fixed-up devicetree: a single root Node plus the
// cross-reference tables the fixup passes populate.
type Tree struct {
	Root *Node

	Aliases       *om.OrderedMap[string, *Node]
	PhandleToNode *om.OrderedMap[uint32, *Node]
	LabelToNode   *om.OrderedMap[string, *Node]
	LabelToProp   *om.OrderedMap[string, *Property]
	LabelToOffset *om.OrderedMap[string, *ValueLabelRef]

	MemReserves []MemReserve
}

// NewTree creates a tree with a freshly allocated root node and empty tables.
func NewTree() *Tree {
	return &Tree{
		Root:          NewNode("/", nil),
		Aliases:       om.New[string, *Node](),
		PhandleToNode: om.New[uint32, *Node](),
		LabelToNode:   om.New[string, *Node](),
		LabelToProp:   om.New[string, *Property](),
		LabelToOffset: om.New[string, *ValueLabelRef](),
	}
}

// NodeIter visits every node in the tree, depth-first, children in insertion
// order -- the source-order iteration spec.md's client API surface requires.
func (t *Tree) NodeIter(fn func(*Node)) {
	t.Root.Walk(fn)
}

// AllNodes collects NodeIter's visitation order into a slice.
func (t *Tree) AllNodes() []*Node {
	var out []*Node
	t.NodeIter(func(n *Node) { out = append(out, n) })
	return out
}

// NodeByPhandle looks up a node by its registered phandle.
func (t *Tree) NodeByPhandle(ph uint32) (*Node, bool) {
	return t.PhandleToNode.Get(ph)
}

// NodeByPath looks up a node by absolute path ("/a/b") or by alias-prefixed
// path ("alias/b"), where alias is accepted only as the first path segment.
func (t *Tree) NodeByPath(path string) (*Node, bool) {
	segs := splitPath(path)
	cur := t.Root
	if len(segs) > 0 && !strings.HasPrefix(path, "/") {
		if aliased, ok := t.Aliases.Get(segs[0]); ok {
			cur = aliased
			segs = segs[1:]
		}
	}
	for _, seg := range segs {
		next, ok := cur.Child(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// GetNode is the fallible form of NodeByPath, matching the diagnostic
// conventions of the accessor API.
func (t *Tree) GetNode(path string) (*Node, error) {
	n, ok := t.NodeByPath(path)
	if !ok {
		return nil, dterror.New(dterror.CodeReference, fmt.Sprintf("node %q does not exist", path))
	}
	return n, nil
}

// Exists reports whether path resolves to a node.
func (t *Tree) Exists(path string) bool {
	_, ok := t.NodeByPath(path)
	return ok
}

// ToNum decodes a big-endian integer cell of 1, 2, 4, or 8 bytes, matching
// the reference implementation's free to_num helper (used outside property
// context, e.g. for /memreserve/ and raw byte-array conversions).
func ToNum(data []byte, signed bool) (int64, error) {
	switch len(data) {
	case 1, 2, 4, 8:
	default:
		return 0, dterror.New(dterror.CodeAccessor, fmt.Sprintf("expected 1, 2, 4, or 8 bytes, got %d", len(data)))
	}
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	if signed {
		bits := uint(len(data) * 8)
		if u&(1<<(bits-1)) != 0 {
			return int64(u) - (1 << bits), nil
		}
	}
	return int64(u), nil
}

// ToNums decodes data as a sequence of elemSize-byte big-endian cells,
// matching the reference implementation's free to_nums helper.
func ToNums(data []byte, elemSize int, signed bool) ([]int64, error) {
	if elemSize <= 0 || len(data)%elemSize != 0 {
		return nil, dterror.New(dterror.CodeAccessor, fmt.Sprintf("value length %d is not a multiple of %d", len(data), elemSize))
	}
	out := make([]int64, 0, len(data)/elemSize)
	for i := 0; i < len(data); i += elemSize {
		v, err := ToNum(data[i:i+elemSize], signed)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
