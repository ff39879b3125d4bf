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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPythonCodeBasic(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	add := g.CreateNode(OpCallFunction, "torch.add", []Argument{NodeArg(x), NodeArg(x)}, nil, "add", "")
	g.Output(NodeArg(add))

	want := "from math import inf, nan\n" +
		"import torch\n" +
		"def forward(self, x):\n" +
		"    add = torch.add(x, x)\n" +
		"    return add\n"
	require.Equal(t, want, g.PythonCode("self"))

	// Byte-identical on repeat.
	require.Equal(t, g.PythonCode("self"), g.PythonCode("self"))
}

func TestPythonCodeOperatorSugar(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	y := g.Placeholder("y")
	add := g.CallFunction("operator.add", []Argument{NodeArg(x), NodeArg(y)}, nil)
	item := g.CallFunction("_operator.getitem", []Argument{NodeArg(add), IntArg(0)}, nil)
	neg := g.CallFunction("operator.neg", []Argument{NodeArg(item)}, nil)
	eq := g.CallFunction("operator.eq", []Argument{NodeArg(neg), FloatArg(math.Inf(1))}, nil)
	g.Output(NodeArg(eq))

	code := g.PythonCode("self")
	require.Contains(t, code, "add = x + y\n")
	require.Contains(t, code, "getitem = add[0]\n")
	require.Contains(t, code, "neg = -getitem\n")
	require.Contains(t, code, "eq = neg == inf\n")
	// Sugared operators never surface their module in the import block.
	require.NotContains(t, code, "import operator")
}

func TestPythonCodeGetAttrPretty(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	shape := g.CallFunction("getattr", []Argument{NodeArg(x), StrArg("shape")}, nil)
	g.Output(NodeArg(shape))

	code := g.PythonCode("self")
	// "getattr" itself is a reserved name, so the node gets a suffix, but the
	// statement renders as plain attribute access.
	require.Contains(t, code, "getattr_1 = x.shape\n")
}

func TestPythonCodeMethodModuleAndAttr(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	relu := g.CallMethod("relu", []Argument{NodeArg(x)}, nil)
	lin := g.CallModule("layers.0", []Argument{NodeArg(relu)}, nil)
	w := g.GetAttr("weight")
	add := g.CallFunction("torch.add", []Argument{NodeArg(lin), NodeArg(w)},
		map[string]Argument{"beta": IntArg(2), "alpha": IntArg(1)})
	g.Output(NodeArg(add))

	code := g.PythonCode("self")
	require.Contains(t, code, "relu = x.relu()\n")
	require.Contains(t, code, `layers_0 = getattr(self.layers, "0")(relu)`+"\n")
	require.Contains(t, code, "weight = self.weight\n")
	// Keyword arguments render sorted.
	require.Contains(t, code, "add = torch.add(layers_0, weight, alpha = 1, beta = 2)\n")
}

func TestPythonCodeStarPlaceholderAndAlias(t *testing.T) {
	g := New()
	xs := g.Placeholder("*xs")
	require.Equal(t, "xs", xs.Name())
	g.Output(NodeArg(xs))

	code := g.PythonCode("self")
	require.Contains(t, code, "def forward(self, *xs):\n")
	// The bound name already matches the node name, no alias statement.
	require.NotContains(t, code, "xs = xs")

	// A renamed placeholder gets an alias statement binding the node name.
	g2 := New()
	g2.Placeholder("x")
	x1 := g2.Placeholder("x")
	require.Equal(t, "x_1", x1.Name())
	g2.Output(NodeArg(x1))
	require.Contains(t, g2.PythonCode("self"), "    x_1 = x\n")
}

func TestPythonCodeAnnotations(t *testing.T) {
	g := New()
	x := g.PlaceholderTyped("x", "torch.Tensor")
	out := g.CreateNode(OpOutput, "output", []Argument{NodeArg(x)}, nil, "", "torch.Tensor")
	_ = out

	code := g.PythonCode("self")
	require.True(t, strings.HasPrefix(code, "from math import inf, nan\nimport torch\n"))
	require.Contains(t, code, "def forward(self, x : torch.Tensor) -> torch.Tensor:\n")
}

func TestPythonCodeEmptyGraph(t *testing.T) {
	g := New()
	require.Equal(t, "from math import inf, nan\ndef forward(self):\n    pass\n", g.PythonCode("self"))
}

func TestPythonFloat(t *testing.T) {
	require.Equal(t, "2.0", pythonFloat(2))
	require.Equal(t, "-0.25", pythonFloat(-0.25))
	require.Equal(t, "inf", pythonFloat(math.Inf(1)))
	require.Equal(t, "-inf", pythonFloat(math.Inf(-1)))
	require.Equal(t, "nan", pythonFloat(math.NaN()))
	require.Equal(t, "1e+20", pythonFloat(1e20))
}
