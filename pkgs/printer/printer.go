// Package printer serializes a fixed-up ast.Tree back to canonical DTS text.
// It is deterministic for a given tree and, composed with pkgs/parser, forms
// the round-trip oracle: print(parse(text)) reparsed yields a structurally
// equal tree.
package printer

import (
	"fmt"
	"strings"

	"github.com/aledsdavies/dts/pkgs/ast"
)

// Sprint renders t as canonical DTS text, with no trailing newline.
func Sprint(t *ast.Tree) string {
	var b strings.Builder
	b.WriteString("/dts-v1/;\n\n")

	for _, mr := range t.MemReserves {
		for _, l := range mr.Labels {
			b.WriteString(l + ": ")
		}
		fmt.Fprintf(&b, "/memreserve/ 0x%016x 0x%016x;\n", mr.Address, mr.Length)
	}
	if len(t.MemReserves) > 0 {
		b.WriteString("\n")
	}

	printNode(&b, t.Root, 0)
	return strings.TrimRight(b.String(), "\n")
}

func printNode(b *strings.Builder, n *ast.Node, depth int) {
	indent := strings.Repeat("\t", depth)

	b.WriteString(indent)
	for _, l := range n.Labels() {
		b.WriteString(l + ": ")
	}
	name := n.Name
	if n.IsRoot() {
		name = "/"
	}
	b.WriteString(name + " {\n")

	for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
		b.WriteString(indent + "\t")
		printProperty(b, pair.Value)
		b.WriteString("\n")
	}
	for pair := n.Children.Oldest(); pair != nil; pair = pair.Next() {
		printNode(b, pair.Value, depth+1)
	}

	b.WriteString(indent + "};\n")
}

func printProperty(b *strings.Builder, p *ast.Property) {
	for _, l := range p.Labels() {
		b.WriteString(l + ": ")
	}
	if p.Type() == ast.Empty {
		b.WriteString(p.Name + ";")
		return
	}
	b.WriteString(p.Name + " = ")
	b.WriteString(strings.Join(renderChunks(p), ", "))
	b.WriteString(";")
}

func valueLabelsByOffset(p *ast.Property) map[int][]string {
	out := make(map[int][]string)
	for pair := p.ValueLabels.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = append(out[pair.Key], pair.Value)
	}
	return out
}

func labelPrefix(vl map[int][]string, offset int) string {
	var b strings.Builder
	for _, l := range vl[offset] {
		b.WriteString(l + ": ")
	}
	return b.String()
}

// nextBoundary finds the offset at which the region opened by markers[i]
// ends: the offset of the next marker that isn't a REF-PHANDLE cell folded
// into the same numeric region, or the end of the value.
func nextBoundary(markers []ast.Marker, i, total int) int {
	for k := i + 1; k < len(markers); k++ {
		if markers[k].Kind != ast.RefPhandle {
			return markers[k].Offset
		}
	}
	return total
}

func openerCloser(k ast.MarkerKind) (string, string) {
	switch k {
	case ast.StartBytes:
		return "[", "]"
	case ast.StartU16:
		return "/bits/ 16 <", ">"
	case ast.StartU64:
		return "/bits/ 64 <", ">"
	default: // StartU32
		return "<", ">"
	}
}

func decodeBE(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// renderChunks walks p's markers, grouping consecutive cells belonging to
// the same typed region into one bracketed chunk, and returns the
// comma-joined list of source-level value chunks.
func renderChunks(p *ast.Property) []string {
	vl := valueLabelsByOffset(p)
	markers := p.Markers
	var chunks []string

	for i := 0; i < len(markers); {
		m := markers[i]

		switch {
		case m.Kind == ast.RefPath:
			chunks = append(chunks, labelPrefix(vl, m.Offset)+m.Ref)
			i++

		case m.Kind == ast.StartString:
			end := nextBoundary(markers, i, len(p.Value))
			raw := p.Value[m.Offset:end]
			if len(raw) > 0 && raw[len(raw)-1] == 0 {
				raw = raw[:len(raw)-1]
			}
			chunks = append(chunks, labelPrefix(vl, m.Offset)+quoteDTS(string(raw)))
			i++

		case m.Kind.IsStart():
			end := nextBoundary(markers, i, len(p.Value))
			nBytes := m.Kind.NBytes()

			var cells []string
			pos := m.Offset
			j := i + 1
			for pos < end {
				if j < len(markers) && markers[j].Offset == pos && markers[j].Kind == ast.RefPhandle {
					cells = append(cells, labelPrefix(vl, pos)+markers[j].Ref)
					pos += 4
					j++
					continue
				}
				if m.Kind == ast.StartBytes {
					cells = append(cells, labelPrefix(vl, pos)+fmt.Sprintf("%02X", p.Value[pos]))
				} else {
					cells = append(cells, labelPrefix(vl, pos)+fmt.Sprintf("0x%x", decodeBE(p.Value[pos:pos+nBytes])))
				}
				pos += nBytes
			}

			opener, closer := openerCloser(m.Kind)
			chunks = append(chunks, opener+strings.Join(cells, " ")+closer)
			i = j

		default: // RefPhandle/RefLabel with no enclosing Start marker shouldn't occur post-fixup
			i++
		}
	}
	return chunks
}

func quoteDTS(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
