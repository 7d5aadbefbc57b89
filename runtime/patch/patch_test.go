package patch

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestApplyAddReplaceRemove(t *testing.T) {
	in := doc(t, `{"a":{"b":1,"c":2},"d":[1,2]}`)
	out, err := Apply(in, []Operation{
		{Op: OpAdd, Path: "/a/e", Value: "x"},
		{Op: OpReplace, Path: "/a/b", Value: 10.0},
		{Op: OpRemove, Path: "/a/c"},
	})
	require.NoError(t, err)
	assert.Equal(t, doc(t, `{"a":{"b":10,"e":"x"},"d":[1,2]}`), out)
	assert.Equal(t, doc(t, `{"a":{"b":1,"c":2},"d":[1,2]}`), in)
}

func TestApplySharesUntouchedSiblings(t *testing.T) {
	in := doc(t, `{"a":{"x":1},"b":{"y":2}}`).(map[string]any)
	out, err := Apply(in, []Operation{{Op: OpAdd, Path: "/a/z", Value: 3.0}})
	require.NoError(t, err)
	res := out.(map[string]any)
	in["b"].(map[string]any)["marker"] = true
	assert.Equal(t, true, res["b"].(map[string]any)["marker"], "sibling subtree should be shared")
	_, leaked := in["a"].(map[string]any)["z"]
	assert.False(t, leaked, "patched branch must be cloned")
}

func TestApplyNumericSegmentIsObjectKey(t *testing.T) {
	in := doc(t, `{"list":[1,2,3]}`)
	out, err := Apply(in, []Operation{{Op: OpAdd, Path: "/list/0", Value: "zero"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"list": map[string]any{"0": "zero"}}, out)
}

func TestApplyCreatesIntermediateObjects(t *testing.T) {
	out, err := Apply(nil, []Operation{{Op: OpAdd, Path: "a/b/c", Value: true}})
	require.NoError(t, err)
	assert.Equal(t, doc(t, `{"a":{"b":{"c":true}}}`), out)
}

func TestApplyRemoveMissingIsNoop(t *testing.T) {
	in := doc(t, `{"a":{"b":1}}`)
	out, err := Apply(in, []Operation{{Op: OpRemove, Path: "/a/zzz/q"}, {Op: OpRemove, Path: "/nope"}})
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestApplyRootPath(t *testing.T) {
	out, err := Apply(doc(t, `{"a":1}`), []Operation{{Op: OpReplace, Path: "", Value: "whole"}})
	require.NoError(t, err)
	assert.Equal(t, "whole", out)

	out, err = Apply(doc(t, `{"a":1}`), []Operation{{Op: OpRemove, Path: "/"}})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestApplyUnescapesSegments(t *testing.T) {
	out, err := Apply(nil, []Operation{{Op: OpAdd, Path: "/a~1b/c~0d", Value: 1.0}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a/b": map[string]any{"c~d": 1.0}}, out)
}

func TestApplyRejectsForbiddenSegments(t *testing.T) {
	for _, path := range []string{"/a/__proto__/b", "/constructor", "x/prototype"} {
		t.Run(path, func(t *testing.T) {
			in := doc(t, `{"a":{"b":1}}`)
			before, _ := json.Marshal(in)
			out, err := Apply(in, []Operation{
				{Op: OpAdd, Path: "/ok", Value: 1.0},
				{Op: OpAdd, Path: path, Value: 1.0},
			})
			var se *SecurityError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, path, se.Path)
			after, _ := json.Marshal(out)
			assert.JSONEq(t, string(before), string(after))
		})
	}
}

func TestApplyRejectsUnsupportedOp(t *testing.T) {
	in := doc(t, `{"a":1}`)
	out, err := Apply(in, []Operation{{Op: "move", Path: "/a"}})
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, Op("move"), pe.Op)
	assert.Equal(t, in, out)
}

func genDocument() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(),
		gen.Float64Range(-10, 10),
		gen.Bool(),
		gen.Bool(),
	).Map(func(vs []any) map[string]any {
		d := map[string]any{"a": vs[0].(string)}
		if vs[2].(bool) {
			d["b"] = map[string]any{"x": vs[1].(float64)}
		}
		if vs[3].(bool) {
			d["c"] = map[string]any{"y": map[string]any{"z": vs[0].(string)}}
		}
		return d
	})
}

func genOperation() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(OpAdd, OpReplace, OpRemove),
		gen.OneConstOf("/a", "/b/x", "/c/y/z", "/d", "/e/f"),
		gen.AlphaString(),
	).Map(func(vs []any) Operation {
		return Operation{Op: vs[0].(Op), Path: vs[1].(string), Value: vs[2].(string)}
	})
}

// TestApplyProperties checks the empty-patch identity law and that Apply
// never mutates its input.
func TestApplyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("empty patch is identity", prop.ForAll(
		func(d map[string]any) bool {
			out, err := Apply(d, nil)
			if err != nil {
				return false
			}
			a, _ := json.Marshal(d)
			b, _ := json.Marshal(out)
			return string(a) == string(b)
		},
		genDocument(),
	))

	properties.Property("input is never mutated", prop.ForAll(
		func(d map[string]any, ops []Operation) bool {
			before, _ := json.Marshal(d)
			if _, err := Apply(d, ops); err != nil {
				return false
			}
			after, _ := json.Marshal(d)
			return string(before) == string(after)
		},
		genDocument(),
		gen.SliceOf(genOperation()),
	))

	properties.TestingRun(t)
}
