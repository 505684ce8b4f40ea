// Package fixup runs the five ordered passes that turn a freshly parsed
// ast.Tree -- full of unresolved REF-PATH, REF-PHANDLE, and REF-LABEL
// markers -- into a tree whose property values, phandles, aliases, and
// label tables are fully resolved and cross-checked.
package fixup

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/aledsdavies/dts/pkgs/ast"
	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/suggest"
)

// Run applies the five passes in the order the reference implementation
// requires: phandles must be registered before property values are patched
// (so patching never allocates a number an explicit assignment already
// claims), aliases are resolved against patched (path-typed) values, pruning
// happens only once every reference has been recorded, and labels are
// registered last so a pruned node's labels never enter the table.
func Run(t *ast.Tree) error {
	if err := RegisterPhandles(t); err != nil {
		return err
	}
	if err := PatchProperties(t); err != nil {
		return err
	}
	if err := RegisterAliases(t); err != nil {
		return err
	}
	if err := PruneOmitted(t); err != nil {
		return err
	}
	if err := RegisterLabels(t); err != nil {
		return err
	}
	return nil
}

// RegisterPhandles claims every explicitly-assigned "phandle" property
// (`phandle = <17>;`) into the tree's phandle table. Properties assigned via
// a label reference (`phandle = <&self>;`) are left for PatchProperties,
// which allocates a number for them the same way it would for any other
// REF-PHANDLE site -- but only when the reference names the node itself;
// `phandle = <&other>;` is rejected there.
func RegisterPhandles(t *ast.Tree) error {
	var err error
	t.NodeIter(func(n *ast.Node) {
		if err != nil {
			return
		}
		p, ok := n.Property("phandle")
		if !ok {
			return
		}
		switch p.Type() {
		case ast.Phandle:
			return // resolved lazily in PatchProperties
		case ast.Num:
			v, _ := p.ToNum()
			if v == 0 || v == 0xffffffff {
				err = dterror.AtAccessor(dterror.CodePhandle, p.Filename, n.Path(), "phandle",
					fmt.Sprintf("value 0x%x is reserved and cannot be used as a phandle", v))
				return
			}
			if existing, dup := t.PhandleToNode.Get(v); dup {
				err = dterror.New(dterror.CodePhandle,
					fmt.Sprintf("duplicate phandle 0x%x on %s and %s", v, existing.Path(), n.Path()))
				return
			}
			n.Phandle = v
			t.PhandleToNode.Set(v, n)
		default:
			err = dterror.AtAccessor(dterror.CodePhandle, p.Filename, n.Path(), "phandle",
				"phandle property must be a single <u32> cell")
		}
	})
	return err
}

// allocPhandle returns n's phandle, allocating and registering the smallest
// unused non-reserved number if n has none yet, and attaching a literal
// "phandle" property to n if it doesn't already carry one -- the case where
// n is only ever the *target* of a reference, never explicitly numbered.
func allocPhandle(t *ast.Tree, n *ast.Node) uint32 {
	if n.Phandle != 0 {
		return n.Phandle
	}
	next := uint32(1)
	for {
		if next == 0xffffffff {
			next++
			continue
		}
		if _, taken := t.PhandleToNode.Get(next); !taken {
			break
		}
		next++
	}
	n.Phandle = next
	t.PhandleToNode.Set(next, n)

	if _, has := n.Property("phandle"); !has {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, next)
		p := ast.NewProperty("phandle")
		p.Filename = n.Filename
		p.Value = buf
		p.Markers = []ast.Marker{{Offset: 0, Kind: ast.StartU32}}
		n.SetProperty(p)
	}
	return next
}

// PatchProperties rewrites every property's raw value, resolving each
// REF-PATH marker to the referenced node's path, each REF-PHANDLE marker to
// the referenced node's (possibly freshly allocated) phandle number, and
// recording each REF-LABEL marker's byte offset into the property's value
// labels. It snapshots the property list before patching, since allocPhandle
// may attach a brand new "phandle" property to a node mid-pass; that new
// property needs no patching of its own, so omitting it from the snapshot is
// harmless.
//
// A node's own "phandle" property may only reference itself
// (`phandle = <&self>;`); a reference to another node there is fatal, matching
// the reference implementation's rejection of `phandle = <&other>;`.
func PatchProperties(t *ast.Tree) error {
	var props []*ast.Property
	t.NodeIter(func(n *ast.Node) {
		for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props = append(props, pair.Value)
		}
	})
	for _, p := range props {
		if err := patchProperty(t, p); err != nil {
			return err
		}
	}
	return nil
}

func patchProperty(t *ast.Tree, p *ast.Property) error {
	if len(p.Markers) == 0 {
		return nil
	}

	var newValue []byte
	newMarkers := make([]ast.Marker, 0, len(p.Markers))
	oldPos := 0

	for _, m := range p.Markers {
		if m.Offset > oldPos {
			newValue = append(newValue, p.Value[oldPos:m.Offset]...)
			oldPos = m.Offset
		}

		switch m.Kind {
		case ast.RefLabel:
			p.ValueLabels.Set(len(newValue), m.Ref)
			t.LabelToOffset.Set(m.Ref, &ast.ValueLabelRef{Property: p, Offset: len(newValue)})

		case ast.RefPath:
			n, err := refToNode(t, m.Ref)
			if err != nil {
				return err
			}
			n.IsReferenced = true
			newMarkers = append(newMarkers, ast.Marker{Offset: len(newValue), Kind: ast.RefPath, Ref: m.Ref})
			newValue = append(newValue, []byte(n.Path())...)
			newValue = append(newValue, 0)

		case ast.RefPhandle:
			n, err := refToNode(t, m.Ref)
			if err != nil {
				return err
			}
			if p.Name == "phandle" && n != p.Node {
				return dterror.AtAccessor(dterror.CodePhandle, p.Filename, p.Node.Path(), "phandle",
					fmt.Sprintf("%s refers to another node", m.Ref))
			}
			n.IsReferenced = true
			ph := allocPhandle(t, n)
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, ph)
			newMarkers = append(newMarkers, ast.Marker{Offset: len(newValue), Kind: ast.RefPhandle, Ref: m.Ref})
			newValue = append(newValue, buf...)
			oldPos += 4 // skip the 4-byte zero placeholder the parser reserved

		default: // Start* markers bound a literal region; only the offset moves.
			newMarkers = append(newMarkers, ast.Marker{Offset: len(newValue), Kind: m.Kind})
		}
	}

	if oldPos < len(p.Value) {
		newValue = append(newValue, p.Value[oldPos:]...)
	}

	p.Value = newValue
	p.Markers = newMarkers
	return nil
}

// refToNode resolves a raw "&label" or "&{/path}" reference string against
// the tree directly, the same way the parser resolves top-level node
// references -- by scanning node labels, not by consulting the label table,
// since that table isn't populated until RegisterLabels runs.
func refToNode(t *ast.Tree, raw string) (*ast.Node, error) {
	if strings.HasPrefix(raw, "&{") {
		path := raw[2 : len(raw)-1]
		n, ok := t.NodeByPath(path)
		if !ok {
			return nil, dterror.New(dterror.CodeReference, fmt.Sprintf("path %q does not exist", path))
		}
		return n, nil
	}

	label := raw[1:]
	var found *ast.Node
	t.NodeIter(func(n *ast.Node) {
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
		var pool []string
		t.NodeIter(func(n *ast.Node) { pool = append(pool, n.Labels()...) })
		return nil, dterror.New(dterror.CodeReference,
			fmt.Sprintf("undefined node label %q%s", label, suggest.Hint(label, pool)))
	}
	return found, nil
}

var aliasNameRe = regexp.MustCompile(`^[0-9a-z-]+$`)

// RegisterAliases reads the properties of /aliases (if present), validating
// each property name and resolving its patched value -- a path string or a
// path reference -- into the tree's alias table.
func RegisterAliases(t *ast.Tree) error {
	aliases, ok := t.Root.Child("aliases")
	if !ok {
		return nil
	}
	for pair := aliases.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, p := pair.Key, pair.Value
		if !aliasNameRe.MatchString(name) {
			return dterror.AtAccessor(dterror.CodeAlias, p.Filename, aliases.Path(), name,
				"alias name must match [0-9a-z-]+")
		}
		target, err := p.ToPath(t)
		if err != nil {
			return err
		}
		t.Aliases.Set(name, target)
	}
	return nil
}

// PruneOmitted deletes every /omit-if-no-ref/ node that PatchProperties
// never marked as referenced, depth-first so a pruned parent never leaves
// orphaned children behind in the tree's iteration order.
func PruneOmitted(t *ast.Tree) error {
	pruneChildren(t.Root)
	return nil
}

func pruneChildren(n *ast.Node) {
	var toDelete []string
	for pair := n.Children.Oldest(); pair != nil; pair = pair.Next() {
		child := pair.Value
		pruneChildren(child)
		if child.OmitIfNoRef && !child.IsReferenced {
			toDelete = append(toDelete, child.Name)
		}
	}
	for _, name := range toDelete {
		n.DeleteChild(name)
	}
}

// RegisterLabels walks the surviving tree recording every node and property
// label into the tree's label tables, rejecting any label that names more
// than one location. Node and property labels share a single namespace, and
// the error names both locations in a deterministic (sorted) order so the
// message is stable regardless of traversal order.
func RegisterLabels(t *ast.Tree) error {
	locs := make(map[string]string)
	var err error

	t.NodeIter(func(n *ast.Node) {
		if err != nil {
			return
		}
		for _, l := range n.Labels() {
			if dup, ok := locs[l]; ok {
				err = dupLabelErr(l, dup, n.Path())
				return
			}
			locs[l] = n.Path()
			t.LabelToNode.Set(l, n)
		}
		if err != nil {
			return
		}
		for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
			p := pair.Value
			for _, l := range p.Labels() {
				if dup, ok := locs[l]; ok {
					err = dupLabelErr(l, dup, n.Path())
					return
				}
				locs[l] = n.Path()
				t.LabelToProp.Set(l, p)
			}
		}
	})
	return err
}

func dupLabelErr(label, a, b string) error {
	if b < a {
		a, b = b, a
	}
	return dterror.New(dterror.CodeLabel, fmt.Sprintf("Label '%s' appears on %s and on %s", label, a, b))
}
