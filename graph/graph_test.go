/*
 *	Copyright 2026 The symtrace Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func nodeNames(g *Graph) []string {
	var names []string
	for n := range g.Nodes() {
		names = append(names, n.Name())
	}
	return names
}

func TestCreateNodeAndIteration(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	add := g.CreateNode(OpCallFunction, "torch.add", []Argument{NodeArg(x), NodeArg(x)}, nil, "add", "")
	out := g.Output(NodeArg(add))

	require.Equal(t, 3, g.Len())
	require.Equal(t, []string{"x", "add", "output"}, nodeNames(g))
	require.Equal(t, OpPlaceholder, x.Op())
	require.Equal(t, "torch.add", add.Target())

	require.Equal(t, 1, x.NumUsers()) // add uses x twice but is one user
	require.Equal(t, []*Node{add}, x.Users())
	require.Equal(t, []*Node{out}, add.Users())

	var reversed []string
	for n := range g.NodesReversed() {
		reversed = append(reversed, n.Name())
	}
	require.Equal(t, []string{"output", "add", "x"}, reversed)

	require.Panics(t, func() { g.CreateNode(opRoot, "", nil, nil, "", "") })
	require.Panics(t, func() { g.CreateNode(OpKind(42), "", nil, nil, "", "") })
}

func TestNameAllocation(t *testing.T) {
	g := New()
	newName := func(requested string) string {
		return g.CreateNode(OpCallFunction, "torch.add", nil, nil, requested, "").Name()
	}

	// Explicit names are de-duplicated with a _N suffix, N from 1.
	require.Equal(t, "add", newName("add"))
	require.Equal(t, "add_1", newName("add"))
	require.Equal(t, "add_2", newName("add"))

	// Reserved identifiers are never handed out bare.
	require.Equal(t, "list_1", newName("list"))
	require.Equal(t, "for_1", newName("for"))
	require.Equal(t, "inf_1", newName("inf"))

	// A taken suffix is skipped, not reissued.
	require.Equal(t, "mul_2", newName("mul_2"))
	require.Equal(t, "mul", newName("mul"))
	require.Equal(t, "mul_1", newName("mul"))
	require.Equal(t, "mul_3", newName("mul"))
}

func TestDerivedNames(t *testing.T) {
	g := New()
	require.Equal(t, "add", g.CallFunction("torch.add", nil, nil).Name())
	require.Equal(t, "add_1", g.CallFunction("torch.add", nil, nil).Name())
	require.Equal(t, "layers_0_weight", g.GetAttr("layers.0.weight").Name())
	require.Equal(t, "relu", g.CallMethod("relu", nil, nil).Name())
	require.Equal(t, "layer_norm", g.CallModule("LayerNorm", nil, nil).Name())
	require.Equal(t, "matmul", g.CallMethod("__matmul__", nil, nil).Name())
	require.Equal(t, "xs", g.Placeholder("*xs").Name())
	require.Equal(t, "_0bad", g.Placeholder("0bad").Name())
	require.Equal(t, "output", g.Output(NilArg()).Name())
}

func TestEraseNode(t *testing.T) {
	g := New()
	a := g.CallFunction("torch.ones", nil, nil)
	b := g.CallFunction("torch.neg", []Argument{NodeArg(a)}, nil)
	require.Equal(t, 2, g.Len())

	// a is still consumed by b.
	err := g.EraseNode(a)
	require.True(t, errors.Is(err, ErrNodeInUse))
	require.Equal(t, 2, g.Len())

	require.NoError(t, g.EraseNode(b))
	require.NoError(t, g.EraseNode(a))
	require.Equal(t, 0, g.Len())
	require.Empty(t, nodeNames(g))
	require.True(t, a.IsErased())

	// Erased nodes stay inspectable: b's args still reference a.
	require.Same(t, a, b.Args()[0].Node())

	// Idempotent.
	require.NoError(t, g.EraseNode(b))

	other := New()
	require.Panics(t, func() { _ = other.EraseNode(a) })
}

func TestEraseDuringIteration(t *testing.T) {
	g := New()
	for range 5 {
		g.CallFunction("torch.ones", nil, nil)
	}
	for n := range g.Nodes() {
		require.NoError(t, g.EraseNode(n))
	}
	require.Equal(t, 0, g.Len())
}

func TestInsertionPoints(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	a := g.CallFunction("torch.neg", []Argument{NodeArg(x)}, nil)
	out := g.Output(NodeArg(a))

	restore := g.InsertingBefore(out)
	b := g.CallFunction("torch.abs", []Argument{NodeArg(a)}, nil)
	require.Equal(t, []string{"x", "neg", "abs", "output"}, nodeNames(g))
	restore()

	// Restored: back to appending at the end.
	c := g.CallFunction("torch.ones", nil, nil)
	require.Equal(t, []string{"x", "neg", "abs", "output", "ones"}, nodeNames(g))

	restore = g.InsertingAfter(x)
	d := g.CallFunction("torch.zeros", nil, nil)
	require.Equal(t, []string{"x", "zeros", "neg", "abs", "output", "ones"}, nodeNames(g))
	restore()

	_ = b
	_ = c
	_ = d
}

func TestInsertionPointRestoredOnPanic(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	out := g.Output(NodeArg(x))

	require.Panics(t, func() {
		defer g.InsertingBefore(x)()
		panic("tracer bailed")
	})

	// The deferred restore ran: new nodes append at the end again.
	g.CallFunction("torch.ones", nil, nil)
	require.Equal(t, []string{"x", "output", "ones"}, nodeNames(g))
	_ = out
}

func TestEraseInsertionAnchor(t *testing.T) {
	g := New()
	a := g.CallFunction("torch.ones", nil, nil)
	b := g.CallFunction("torch.zeros", nil, nil)

	restore := g.InsertingBefore(b)
	require.NoError(t, g.EraseNode(b))
	// The anchor moved to a surviving neighbor; creation still works and
	// lands where b used to be.
	c := g.CallFunction("torch.rand", nil, nil)
	require.Equal(t, []string{"ones", "rand"}, nodeNames(g))
	restore()

	_ = a
	_ = c
}

func TestTopologicalOrderAfterInsertions(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	c := g.CallFunction("torch.neg", []Argument{NodeArg(x)}, nil)
	g.Output(NodeArg(c))

	// Splice a producer chain in front of c.
	restore := g.InsertingBefore(c)
	b := g.CallFunction("torch.abs", []Argument{NodeArg(x)}, nil)
	restore()

	require.NoError(t, g.Lint(nil))

	seen := map[*Node]bool{}
	for n := range g.Nodes() {
		for _, a := range n.Args() {
			if arg := a.Node(); arg != nil {
				require.True(t, seen[arg], "argument %s of %s not yet defined", arg, n)
			}
		}
		seen[n] = true
	}
	_ = b
}

func TestNodeCopyAndGraphCopy(t *testing.T) {
	src := New()
	x := src.Placeholder("x")
	add := src.CallFunction("torch.add", []Argument{NodeArg(x), NodeArg(x)}, nil)
	add1 := src.CallFunction("torch.add", []Argument{NodeArg(add), IntArg(1)}, nil)
	src.Output(NodeArg(add1))
	require.Equal(t, "add_1", add1.Name())

	dst := New()
	valMap := map[*Node]*Node{}
	output, hasOutput := dst.GraphCopy(src, valMap)
	require.True(t, hasOutput)
	dst.Output(output)

	require.Equal(t, src.Len(), dst.Len())
	require.Same(t, valMap[x], dst.root.next) // first node of the copy
	// Placeholder names survive verbatim; others re-derive from their base.
	require.Equal(t, "x", valMap[x].Name())
	require.Equal(t, "add", valMap[add].Name())
	require.Equal(t, "add_1", valMap[add1].Name())
	require.NoError(t, dst.Lint(nil))

	// Copies are independent nodes.
	require.NotSame(t, add, valMap[add])
	require.Same(t, valMap[add], valMap[add1].Args()[0].Node())
}

func TestDeepCopy(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	add := g.CallFunction("torch.add", []Argument{NodeArg(x), NodeArg(x)}, map[string]Argument{"alpha": FloatArg(2)})
	g.Output(NodeArg(add))

	copied := g.DeepCopy()
	require.Equal(t, g.Len(), copied.Len())
	require.Equal(t, g.String(), copied.String())
	require.Equal(t, g.PythonCode("self"), copied.PythonCode("self"))
	require.NoError(t, copied.Lint(nil))

	// Mutating the copy leaves the original untouched.
	for n := range copied.NodesReversed() {
		require.NoError(t, copied.EraseNode(n))
	}
	require.Equal(t, 0, copied.Len())
	require.Equal(t, 3, g.Len())
}

func TestGraphString(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	w := g.GetAttr("weight")
	add := g.CallFunction("torch.add", []Argument{NodeArg(x), NodeArg(w)}, nil)
	g.Output(NodeArg(add))

	want := `graph(x):
    %weight : [#users=1] = self.weight
    %add : [#users=1] = call_function[target=torch.add](args = (%x, %weight), kwargs = {})
    return add`
	require.Equal(t, want, g.String())
}

func TestGraphStringKwargs(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	add := g.CallFunction("torch.add", []Argument{NodeArg(x), NodeArg(x)},
		map[string]Argument{"alpha": IntArg(2)})
	g.Output(NodeArg(add))

	// Dump-form kwargs keys are bare, unlike the quoted Python-repr form.
	require.Contains(t, g.String(),
		"%add : [#users=1] = call_function[target=torch.add](args = (%x, %x), kwargs = {alpha: 2})")
}

func TestArgumentRendering(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	tests := []struct {
		arg  Argument
		want string
	}{
		{NilArg(), "None"},
		{BoolArg(true), "True"},
		{BoolArg(false), "False"},
		{IntArg(-3), "-3"},
		{FloatArg(2), "2.0"},
		{FloatArg(0.5), "0.5"},
		{StrArg("it's"), `'it\'s'`},
		{NodeArg(x), "x"},
		{TupleArg(IntArg(1)), "(1,)"},
		{TupleArg(IntArg(1), IntArg(2)), "(1, 2)"},
		{ListArg(NodeArg(x), NilArg()), "[x, None]"},
		{DictArg(map[string]Argument{"b": IntArg(2), "a": IntArg(1)}), "{'a': 1, 'b': 2}"},
	}
	for _, test := range tests {
		require.Equal(t, test.want, test.arg.String())
	}
}
