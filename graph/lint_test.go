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

	"github.com/symtrace/symtrace/types/sets"
)

// attrSet is a Namespace stub resolving a fixed set of dotted paths.
type attrSet sets.Set[string]

func (s attrSet) HasAttr(qualified string) bool { return sets.Set[string](s).Has(qualified) }

func buildValidGraph() *Graph {
	g := New()
	x := g.Placeholder("x")
	w := g.GetAttr("weight")
	lin := g.CallModule("linear", []Argument{NodeArg(x), NodeArg(w)}, nil)
	g.Output(NodeArg(lin))
	return g
}

func TestLintValid(t *testing.T) {
	g := buildValidGraph()
	require.NoError(t, g.Lint(nil))
	require.NoError(t, g.Lint(attrSet(sets.MakeWith("weight", "linear"))))
}

func TestLintUnresolvedTarget(t *testing.T) {
	g := buildValidGraph()
	err := g.Lint(attrSet(sets.MakeWith("weight")))
	require.True(t, errors.Is(err, ErrUnresolvedTarget))
	require.Contains(t, err.Error(), "linear")
}

func TestLintNodeAfterOutput(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	g.Output(NodeArg(x))
	g.CallFunction("torch.neg", []Argument{NodeArg(x)}, nil)

	err := g.Lint(nil)
	require.True(t, errors.Is(err, ErrGraphIllFormed))
	require.Contains(t, err.Error(), "follows the output")
}

func TestLintUseBeforeDefinition(t *testing.T) {
	g := New()
	x := g.Placeholder("x")
	neg := g.CallFunction("torch.neg", []Argument{NodeArg(x)}, nil)
	g.Output(NodeArg(neg))

	// Move a consumer of neg in front of it.
	restore := g.InsertingBefore(neg)
	g.CallFunction("torch.abs", []Argument{NodeArg(neg)}, nil)
	restore()

	err := g.Lint(nil)
	require.True(t, errors.Is(err, ErrDanglingReference))
	require.Contains(t, err.Error(), "topologically")
}

func TestLintForeignArgument(t *testing.T) {
	other := New()
	foreign := other.Placeholder("y")

	g := New()
	g.CallFunction("torch.neg", []Argument{NodeArg(foreign)}, nil)

	err := g.Lint(nil)
	require.True(t, errors.Is(err, ErrDanglingReference))
	require.Contains(t, err.Error(), "another graph")
}

func TestLintDuplicateName(t *testing.T) {
	g := New()
	a := g.CallFunction("torch.ones", nil, nil)
	b := g.CallFunction("torch.zeros", nil, nil)
	b.name = a.name // bypass the allocator

	err := g.Lint(nil)
	require.True(t, errors.Is(err, ErrDuplicateName))
}

func TestLintForeignNode(t *testing.T) {
	g := New()
	n := g.CallFunction("torch.ones", nil, nil)
	n.graph = New() // corrupt ownership

	err := g.Lint(nil)
	require.True(t, errors.Is(err, ErrGraphIllFormed))
}

func TestLintNestedArguments(t *testing.T) {
	// Node references inside containers are checked too.
	g := New()
	x := g.Placeholder("x")
	cat := g.CallFunction("torch.cat", []Argument{ListArg(NodeArg(x), NodeArg(x))},
		map[string]Argument{"dim": IntArg(0)})
	g.Output(TupleArg(NodeArg(cat), NilArg()))
	require.NoError(t, g.Lint(nil))

	other := New()
	foreign := other.Placeholder("y")
	g.CallFunction("torch.stack", []Argument{ListArg(NodeArg(foreign))}, nil)
	require.True(t, errors.Is(g.Lint(nil), ErrDanglingReference))
}
