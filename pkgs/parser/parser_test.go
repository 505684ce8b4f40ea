package parser_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/dts/pkgs/ast"
	"github.com/aledsdavies/dts/pkgs/dterror"
	"github.com/aledsdavies/dts/pkgs/parser"
	"github.com/aledsdavies/dts/pkgs/printer"
)

func parseString(t *testing.T, dts string) *ast.Tree {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte(dts), 0o644))
	tree, err := parser.Parse(path, nil)
	require.NoError(t, err)
	return tree
}

func TestMinimalTree(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { };`)
	require.Empty(t, tree.Root.Children.Len())
	require.Empty(t, tree.Root.Properties.Len())
	require.Equal(t, "/dts-v1/;\n\n/ {\n};", printer.Sprint(tree))
}

func TestIntegerWidths(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { a = /bits/ 8 <0xff>; b = <0x12345678>; c = /bits/ 64 <0x1122334455667788>; }; `)
	a, _ := tree.Root.Property("a")
	b, _ := tree.Root.Property("b")
	c, _ := tree.Root.Property("c")

	require.Equal(t, []byte{0xff}, a.Value)
	require.Equal(t, ast.Bytes, a.Type())

	require.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, b.Value)
	require.Equal(t, ast.Num, b.Type())

	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}, c.Value)
	require.Equal(t, ast.Compound, c.Type())
}

func TestPhandleAllocationAndPatching(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { n1: a { }; b { ref = <&n1>; }; };`)

	aNode, found := tree.NodeByPath("/a")
	require.True(t, found)
	require.EqualValues(t, 1, aNode.Phandle)

	byPhandle, ok := tree.NodeByPhandle(1)
	require.True(t, ok)
	require.Same(t, aNode, byPhandle)

	phProp, ok := aNode.Property("phandle")
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, phProp.Value)

	bNode, found := tree.NodeByPath("/b")
	require.True(t, found)
	refProp, ok := bNode.Property("ref")
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, refProp.Value)
}

func TestPathReferenceExpansion(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { n1: a { }; b { p = &n1; }; };`)

	bNode, found := tree.NodeByPath("/b")
	require.True(t, found)
	p, ok := bNode.Property("p")
	require.True(t, ok)

	require.Equal(t, append([]byte("/a"), 0), p.Value)
	require.Equal(t, ast.Path, p.Type())

	target, err := p.ToPath(tree)
	require.NoError(t, err)
	require.Equal(t, "/a", target.Path())
}

func TestLabelUniquenessViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte(`/dts-v1/; / { l: a { }; l: b { }; };`), 0o644))

	_, err := parser.Parse(path, nil)
	require.Error(t, err)
	require.True(t, dterror.IsCode(err, dterror.CodeLabel))
	require.Contains(t, err.Error(), "Label 'l' appears on /a and on /b")
}

func TestSelfReferentialPhandle(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { n: a { phandle = <&n>; }; };`)

	aNode, found := tree.NodeByPath("/a")
	require.True(t, found)
	require.EqualValues(t, 1, aNode.Phandle)

	byPhandle, ok := tree.NodeByPhandle(1)
	require.True(t, ok)
	require.Same(t, aNode, byPhandle)

	out := printer.Sprint(tree)
	require.Contains(t, out, "phandle = <&n>;")
}

func TestAliasLookupAcrossSubnodes(t *testing.T) {
	tree := parseString(t, `/dts-v1/; / { a { b { }; }; aliases { x = "/a"; }; };`)

	bByAlias, found := tree.NodeByPath("x/b")
	require.True(t, found)
	bDirect, found := tree.NodeByPath("/a/b")
	require.True(t, found)
	require.Same(t, bDirect, bByAlias)

	aByAlias, found := tree.NodeByPath("x")
	require.True(t, found)
	aDirect, found := tree.NodeByPath("/a")
	require.True(t, found)
	require.Same(t, aDirect, aByAlias)
}

func TestAccessorErrorNamesFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte(`/dts-v1/; / { a = "hi"; };`), 0o644))

	tree, err := parser.Parse(path, nil)
	require.NoError(t, err)

	p, ok := tree.Root.Property("a")
	require.True(t, ok)

	_, err = p.ToNum()
	require.Error(t, err)
	require.True(t, dterror.IsCode(err, dterror.CodeAccessor))
	require.Contains(t, err.Error(), path)
	require.Contains(t, err.Error(), "/: property 'a'")
}

func TestMultipleAtSignsInNodeNameIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte(`/dts-v1/; / { a@1@2 { }; };`), 0o644))

	_, err := parser.Parse(path, nil)
	require.Error(t, err)
	require.True(t, dterror.IsCode(err, dterror.CodeNodeName))
}

func TestUnrecognizedInputIsBadToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte("/dts-v1/; / { a = `bad`; };"), 0o644))

	_, err := parser.Parse(path, nil)
	require.Error(t, err)
	require.True(t, dterror.IsCode(err, dterror.CodeBadToken))
}

func TestRoundTrip(t *testing.T) {
	const src = `/dts-v1/; / { n1: a { phandle = <2>; }; b { p = &n1; r = <&n1>; s = "hello"; }; };`
	tree := parseString(t, src)
	printed := printer.Sprint(tree)

	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.dts")
	require.NoError(t, os.WriteFile(path, []byte(printed), 0o644))
	reparsed, err := parser.Parse(path, nil)
	require.NoError(t, err)

	require.Equal(t, printed, printer.Sprint(reparsed))
}
