package ast

import (
	"testing"

	om "github.com/wk8/go-ordered-map/v2"

	"github.com/stretchr/testify/require"
)

func newValueProp(value []byte, markers []Marker) *Property {
	return &Property{
		Name:        "p",
		Value:       value,
		Markers:     markers,
		ValueLabels: om.New[int, string](),
	}
}

func TestTypeInference(t *testing.T) {
	cases := []struct {
		name    string
		prop    *Property
		want    PropType
	}{
		{"empty", newValueProp(nil, nil), Empty},
		{"bytes", newValueProp([]byte{1, 2}, []Marker{{Kind: StartBytes}}), Bytes},
		{"num", newValueProp([]byte{0, 0, 0, 1}, []Marker{{Kind: StartU32}}), Num},
		{"nums", newValueProp([]byte{0, 0, 0, 1, 0, 0, 0, 2}, []Marker{{Kind: StartU32}}), Nums},
		{"u64 is compound", newValueProp(make([]byte, 8), []Marker{{Kind: StartU64}}), Compound},
		{"string", newValueProp([]byte("hi\x00"), []Marker{{Kind: StartString}}), String},
		{
			"strings",
			newValueProp([]byte("a\x00b\x00"), []Marker{{Offset: 0, Kind: StartString}, {Offset: 2, Kind: StartString}}),
			Strings,
		},
		{"path", newValueProp([]byte("/a\x00"), []Marker{{Kind: RefPath, Ref: "&a"}}), Path},
		{
			"phandle",
			newValueProp([]byte{0, 0, 0, 1}, []Marker{{Offset: 0, Kind: StartU32}, {Offset: 0, Kind: RefPhandle, Ref: "&a"}}),
			Phandle,
		},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.prop.Type(), c.name)
	}
}

func TestToStringRejectsUnterminated(t *testing.T) {
	p := newValueProp([]byte("no-nul"), []Marker{{Kind: StartString}})
	_, err := p.ToString()
	require.Error(t, err)
}

func TestToBytesRequiresBytesType(t *testing.T) {
	p := newValueProp([]byte{0, 0, 0, 1}, []Marker{{Kind: StartU32}})
	_, err := p.ToBytes()
	require.Error(t, err)

	p2 := newValueProp([]byte{1, 2, 3}, []Marker{{Kind: StartBytes}})
	v, err := p2.ToBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, v)
}

func TestLabelSetDedupesPreservingOrder(t *testing.T) {
	var s labelSet
	s.Add("a")
	s.Add("b")
	s.Add("a")
	require.Equal(t, []string{"a", "b"}, s.Labels())
}
