package ast

import (
	"strings"

	om "github.com/wk8/go-ordered-map/v2"
)

// Node is a named container with child nodes, properties, and labels. Parent
// back-references form a cycle with their children; Go's garbage collector
// handles that without an arena, so the pointer is kept as a plain (non-owning
// in intent) field rather than an index into a side table.
type Node struct {
	Name   string
	Parent *Node

	// Filename is the source file the node was first defined in, used for
	// accessor diagnostics. Empty for nodes built outside a parse.
	Filename string

	Properties *om.OrderedMap[string, *Property]
	Children   *om.OrderedMap[string, *Node]

	labelSet

	// OmitIfNoRef is set by a preceding /omit-if-no-ref/ marker; the fixup
	// pruning pass deletes the node if IsReferenced never becomes true.
	OmitIfNoRef  bool
	IsReferenced bool

	// Phandle is the node's allocated/registered phandle, or 0 if none.
	Phandle uint32
}

// NewNode creates an empty node named name with the given parent (nil for
// the root).
func NewNode(name string, parent *Node) *Node {
	return &Node{
		Name:       name,
		Parent:     parent,
		Properties: om.New[string, *Property](),
		Children:   om.New[string, *Node](),
	}
}

// IsRoot reports whether this node is the tree root.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// UnitAddress returns the substring of Name after "@", or "" if Name has no
// "@".
func (n *Node) UnitAddress() string {
	if i := strings.IndexByte(n.Name, '@'); i >= 0 {
		return n.Name[i+1:]
	}
	return ""
}

// Path returns the node's canonical path: "/" followed by the "/"-joined
// names of its ancestors (excluding the root) and itself.
func (n *Node) Path() string {
	if n.IsRoot() {
		return "/"
	}
	var parts []string
	for cur := n; !cur.IsRoot(); cur = cur.Parent {
		parts = append([]string{cur.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// Child looks up an immediate child by name.
func (n *Node) Child(name string) (*Node, bool) {
	return n.Children.Get(name)
}

// EnsureChild returns the existing child named name, or creates, attaches,
// and returns a new one, preserving insertion order on first creation.
func (n *Node) EnsureChild(name string) *Node {
	if c, ok := n.Children.Get(name); ok {
		return c
	}
	c := NewNode(name, n)
	n.Children.Set(name, c)
	return c
}

// DeleteChild removes name from n's children, if present.
func (n *Node) DeleteChild(name string) {
	n.Children.Delete(name)
}

// Property looks up a property by name.
func (n *Node) Property(name string) (*Property, bool) {
	return n.Properties.Get(name)
}

// SetProperty creates or replaces a property; replacement clears the old
// value and markers per the lifecycle rule that re-assignment is total.
func (n *Node) SetProperty(p *Property) {
	p.Node = n
	n.Properties.Set(p.Name, p)
}

// DeleteProperty removes name from n's properties, if present.
func (n *Node) DeleteProperty(name string) {
	n.Properties.Delete(name)
}

// Walk calls fn for n and every descendant, depth-first, children visited in
// insertion order -- the "source order" iteration spec.md's client API names.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for pair := n.Children.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Walk(fn)
	}
}

// String renders a short debug form, not the canonical serialization.
func (n *Node) String() string {
	return "Node('" + n.Path() + "')"
}
