package codec

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type node struct {
	Name     string  `json:"name"`
	Self     *node   `json:"self,omitempty"`
	Children []*node `json:"children,omitempty"`
	secret   int
}

type base struct {
	ID string `json:"id"`
}

type wrapped struct {
	base
	Label  string `json:"label"`
	Hidden string `json:"-"`
}

func TestMarshal_PlainValueUsesEncodingJSON(t *testing.T) {
	out, err := Marshal(map[string]int{"b": 2, "a": 1}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":2}`, string(out))
}

func TestMarshal_SelfReferenceBecomesMarker(t *testing.T) {
	a := &node{Name: "a", secret: 7}
	a.Self = a

	out, err := Marshal(a, nil)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "a", decoded["name"])
	require.Equal(t, CircularMarker, decoded["self"])
	require.NotContains(t, decoded, "secret")
}

func TestMarshal_NestedCyclePreservesOtherData(t *testing.T) {
	root := &node{Name: "root"}
	child := &node{Name: "child"}
	root.Children = []*node{child}
	child.Self = root

	out, err := Marshal(root, nil)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"name":"root","children":[{"name":"child","self":"[Circular Reference]"}]}`,
		string(out))
}

func TestMarshal_FallbackWhenUnencodable(t *testing.T) {
	out, err := Marshal(math.NaN(), func() any { return "nan" })
	require.NoError(t, err)
	require.Equal(t, `"nan"`, string(out))

	_, err = Marshal(math.Inf(1), nil)
	require.Error(t, err)
}

func TestEncodeSafe_EmbeddedAndTags(t *testing.T) {
	out, err := EncodeSafe(wrapped{base: base{ID: "x"}, Label: "l", Hidden: "h"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"x","label":"l"}`, string(out))
}

func TestEncodeSafe_MapKeysSorted(t *testing.T) {
	out, err := EncodeSafe(map[int]string{2: "b", 1: "a"})
	require.NoError(t, err)
	require.Equal(t, `{"1":"a","2":"b"}`, string(out))
}

func TestEncodeSafe_UnsupportedType(t *testing.T) {
	_, err := EncodeSafe(make(chan int))
	require.Error(t, err)
}

func TestIsCycleError(t *testing.T) {
	a := &node{Name: "a"}
	a.Self = a
	_, err := json.Marshal(a)
	require.True(t, IsCycleError(err))
	require.False(t, IsCycleError(nil))
}

func TestEnvelope_RoundTrip(t *testing.T) {
	out, err := EncodeEnvelope(3, []int{1, 2}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"value":3,"history":[1,2]}`, string(out))

	p, err := Decode[int](string(out), true)
	require.NoError(t, err)
	require.True(t, p.Envelope)
	require.Equal(t, 3, p.Value)
	require.Equal(t, []int{1, 2}, p.History)
}

func TestDecode_LegacyBareValue(t *testing.T) {
	p, err := Decode[int]("42", true)
	require.NoError(t, err)
	require.False(t, p.Envelope)
	require.Equal(t, 42, p.Value)
	require.Nil(t, p.History)
}

func TestDecode_EnvelopeReadWithoutHistoryMode(t *testing.T) {
	p, err := Decode[string](`{"value":"v","history":["a"]}`, false)
	require.NoError(t, err)
	require.Equal(t, "v", p.Value)
	require.Equal(t, []string{"a"}, p.History)
}

func TestDecode_ObjectValueWithoutHistoryIsBare(t *testing.T) {
	type box struct {
		Value int `json:"value"`
	}
	p, err := Decode[box](`{"value":5}`, false)
	require.NoError(t, err)
	require.False(t, p.Envelope)
	require.Equal(t, 5, p.Value.Value)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode[int]("{not json", false)
	require.Error(t, err)

	_, err = Decode[int](`"text"`, false)
	require.Error(t, err)
}
