package printer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/dts/pkgs/parser"
	"github.com/aledsdavies/dts/pkgs/printer"
)

func parseString(t *testing.T, dts string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "root.dts")
	require.NoError(t, os.WriteFile(path, []byte(dts), 0o644))
	tree, err := parser.Parse(path, nil)
	require.NoError(t, err)
	return printer.Sprint(tree)
}

func TestMinimalTreeSerialization(t *testing.T) {
	require.Equal(t, "/dts-v1/;\n\n/ {\n};", parseString(t, `/dts-v1/; / { };`))
}

func TestMemReserveFormatting(t *testing.T) {
	out := parseString(t, `/dts-v1/; /memreserve/ 0x1000 0x20; / { };`)
	require.Contains(t, out, "/memreserve/ 0x0000000000001000 0x0000000000000020;")
}

func TestPropertyChunkOpenersByWidth(t *testing.T) {
	out := parseString(t, `/dts-v1/; / {
		a = [01 02];
		b = /bits/ 16 <0x1234>;
		c = <0x1>;
		d = /bits/ 64 <0x1>;
	}; `)
	require.Contains(t, out, "a = [01 02];")
	require.Contains(t, out, "b = /bits/ 16 <0x1234>;")
	require.Contains(t, out, "c = <0x1>;")
	require.Contains(t, out, "d = /bits/ 64 <0x1>;")
}

func TestNodeAndPropertyLabelsRender(t *testing.T) {
	out := parseString(t, `/dts-v1/; / { n: child { x: p = <1>; }; };`)
	require.Contains(t, out, "n: child {")
	require.Contains(t, out, "x: p = <0x1>;")
}

func TestEmptyPropertyHasNoAssignment(t *testing.T) {
	out := parseString(t, `/dts-v1/; / { flag; };`)
	require.Contains(t, out, "\tflag;\n")
}

func TestIndentationNestsByDepth(t *testing.T) {
	out := parseString(t, `/dts-v1/; / { a { b { }; }; };`)
	require.Contains(t, out, "\ta {\n")
	require.Contains(t, out, "\t\tb {\n")
}
