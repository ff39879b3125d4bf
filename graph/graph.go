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

// Package graph implements the mutable node-graph intermediate representation
// used by tracing front-ends: an ordered, doubly-linked list of symbolic
// operation nodes forming a data-flow graph.
//
// A Graph supports O(1) insertion at any point (see InsertingBefore and
// InsertingAfter), erasure with use-count enforcement, topological-order
// iteration with Go range-over-func, deterministic unique name allocation that
// never shadows Python builtins or keywords, structural validation (Lint), and
// generation of Python source from the node order (PythonCode).
//
// Like the rest of the module, a Graph is single-threaded: multi-threaded
// hosts must serialize access externally.
package graph

import (
	"fmt"
	"iter"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/symtrace/symtrace/types/sets"
)

// ErrNodeInUse is returned by EraseNode for a node still consumed by others.
// Erasing the users first is the caller's responsibility.
var ErrNodeInUse = errors.New("node is still in use")

// insertPoint says where CreateNode splices new nodes: immediately before or
// immediately after the anchor. Anchoring before the sentinel root appends.
type insertPoint struct {
	anchor *Node
	before bool
}

// Graph is the ordered container of Nodes. Create one with New.
type Graph struct {
	// root is the sentinel anchoring the circular doubly-linked node list.
	// It is never part of the logical program and never iterated.
	root *Node

	// usedNames maps each allocated base name to the numeric suffix last
	// handed out for it.
	usedNames map[string]int
	length    int
	insert    insertPoint
}

// New returns an empty graph whose insertion point is "append at the end".
func New() *Graph {
	g := &Graph{usedNames: make(map[string]int)}
	g.root = &Node{op: opRoot, graph: g, users: sets.Make[*Node]()}
	g.root.prev, g.root.next = g.root, g.root
	g.insert = insertPoint{anchor: g.root, before: true}
	return g
}

// Len returns the number of non-erased nodes in the graph.
func (g *Graph) Len() int { return g.length }

// CreateNode validates op, allocates a unique name (the requested name, if
// any, is still de-duplicated and checked against reserved identifiers),
// builds the Node and splices it in at the current insertion point.
//
// Arguments referencing Nodes are not validated here beyond registering use
// edges; structural checks are deferred to Lint.
func (g *Graph) CreateNode(op OpKind, target string, args []Argument, kwargs map[string]Argument, name, typ string) *Node {
	if !op.valid() {
		exceptions.Panicf("CreateNode: invalid op kind %d", int(op))
	}
	if name == "" {
		name = deriveName(op, target)
	}
	n := &Node{
		graph:  g,
		op:     op,
		name:   g.registerName(name),
		target: target,
		args:   append([]Argument(nil), args...),
		kwargs: cloneKwargs(kwargs),
		typ:    typ,
		users:  sets.Make[*Node](),
	}
	for _, a := range n.args {
		a.walkNodes(func(used *Node) { used.users.Insert(n) })
	}
	for _, a := range n.kwargs {
		a.walkNodes(func(used *Node) { used.users.Insert(n) })
	}
	g.splice(n)
	g.length++
	return n
}

func cloneKwargs(kwargs map[string]Argument) map[string]Argument {
	if len(kwargs) == 0 {
		return nil
	}
	clone := make(map[string]Argument, len(kwargs))
	for k, v := range kwargs {
		clone[k] = v
	}
	return clone
}

// splice links n at the current insertion point.
func (g *Graph) splice(n *Node) {
	anchor := g.insert.anchor
	if g.insert.before {
		n.prev, n.next = anchor.prev, anchor
	} else {
		n.prev, n.next = anchor, anchor.next
	}
	n.prev.next = n
	n.next.prev = n
}

// Placeholder appends an input node. The target is the parameter name as seen
// by generated code; the node name is derived from it (sanitized and
// de-duplicated). A "*xs" target declares a varargs parameter.
func (g *Graph) Placeholder(target string) *Node {
	return g.CreateNode(OpPlaceholder, target, nil, nil, "", "")
}

// PlaceholderTyped is Placeholder with a parameter type annotation.
func (g *Graph) PlaceholderTyped(target, typ string) *Node {
	return g.CreateNode(OpPlaceholder, target, nil, nil, "", typ)
}

// GetAttr appends a node reading the attribute at the dotted path off the
// owning module.
func (g *Graph) GetAttr(qualified string) *Node {
	return g.CreateNode(OpGetAttr, qualified, nil, nil, "", "")
}

// CallFunction appends a call to the free function named by the qualified
// target (e.g. "torch.add" or "operator.add").
func (g *Graph) CallFunction(target string, args []Argument, kwargs map[string]Argument) *Node {
	return g.CreateNode(OpCallFunction, target, args, kwargs, "", "")
}

// CallMethod appends a call to the method named target on args[0].
func (g *Graph) CallMethod(target string, args []Argument, kwargs map[string]Argument) *Node {
	return g.CreateNode(OpCallMethod, target, args, kwargs, "", "")
}

// CallModule appends a call to the submodule at the dotted path off the owning
// module.
func (g *Graph) CallModule(target string, args []Argument, kwargs map[string]Argument) *Node {
	return g.CreateNode(OpCallModule, target, args, kwargs, "", "")
}

// Output appends the graph's return node carrying result.
func (g *Graph) Output(result Argument) *Node {
	return g.CreateNode(OpOutput, "output", []Argument{result}, nil, "", "")
}

// EraseNode unlinks n from the graph and marks it erased. It fails with
// ErrNodeInUse while other nodes still consume n; erasure keeps n's args
// intact (erased nodes stay inspectable) but removes n from its producers'
// use-sets. Erasing an already erased node is a no-op.
func (g *Graph) EraseNode(n *Node) error {
	if n == nil || n.graph != g || n.op == opRoot {
		exceptions.Panicf("EraseNode: %s does not belong to this graph", n)
	}
	if n.erased {
		return nil
	}
	if n.users.Len() > 0 {
		return errors.Wrapf(ErrNodeInUse, "cannot erase %s, still used by %v", n, n.Users())
	}

	// An insertion point anchored at n moves over to a surviving neighbor.
	if g.insert.anchor == n {
		if g.insert.before {
			g.insert.anchor = n.next
		} else {
			g.insert.anchor = n.prev
		}
	}

	// Unlink, but keep n's own links so stale iterators can walk past it.
	n.prev.next = n.next
	n.next.prev = n.prev
	n.erased = true
	g.length--

	for _, a := range n.args {
		a.walkNodes(func(used *Node) { used.users.Delete(n) })
	}
	for _, a := range n.kwargs {
		a.walkNodes(func(used *Node) { used.users.Delete(n) })
	}
	return nil
}

// InsertingBefore redirects CreateNode to splice immediately before n, for as
// long as the returned restore function has not run. Use with defer:
//
//	defer g.InsertingBefore(n)()
//
// so the previous insertion point is restored on scope exit, panics included.
func (g *Graph) InsertingBefore(n *Node) (restore func()) {
	g.assertOwned(n, "InsertingBefore")
	prev := g.insert
	g.insert = insertPoint{anchor: n, before: true}
	return func() { g.insert = prev }
}

// InsertingAfter redirects CreateNode to splice immediately after n; see
// InsertingBefore. Note consecutive creations each land right after n, so they
// end up in reverse creation order.
func (g *Graph) InsertingAfter(n *Node) (restore func()) {
	g.assertOwned(n, "InsertingAfter")
	prev := g.insert
	g.insert = insertPoint{anchor: n, before: false}
	return func() { g.insert = prev }
}

func (g *Graph) assertOwned(n *Node, op string) {
	if n == nil || n.graph != g || n.erased {
		exceptions.Panicf("%s: %s is not a live node of this graph", op, n)
	}
}

// Nodes iterates the non-erased nodes in list (topological) order. Erasing
// nodes, including the current one, is safe during iteration.
func (g *Graph) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := g.root.next; n != g.root; {
			next := n.next
			if !n.erased && !yield(n) {
				return
			}
			n = next
		}
	}
}

// NodesReversed iterates the non-erased nodes in reverse list order.
func (g *Graph) NodesReversed() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := g.root.prev; n != g.root; {
			prev := n.prev
			if !n.erased && !yield(n) {
				return
			}
			n = prev
		}
	}
}

// NodeCopy copies n's operation, target, name and type into this graph at the
// current insertion point, remapping each Node-typed argument through
// argTransform (the hook cross-graph splicing uses to map nodes into this
// graph). The name is de-duplicated against this graph's namespace;
// placeholder names, being externally visible, survive verbatim unless taken.
func (g *Graph) NodeCopy(n *Node, argTransform func(*Node) Argument) *Node {
	args := make([]Argument, len(n.args))
	for i, a := range n.args {
		args[i] = a.transform(argTransform)
	}
	var kwargs map[string]Argument
	if len(n.kwargs) > 0 {
		kwargs = make(map[string]Argument, len(n.kwargs))
		for k, a := range n.kwargs {
			kwargs[k] = a.transform(argTransform)
		}
	}
	name := n.name
	if n.op != OpPlaceholder {
		// Re-derive: strip a numeric suffix so "add_1" copies as "add" when
		// free, and re-run sanitation on what remains.
		name = sanitizeName(stripNumericSuffix(n.name))
	}
	return g.CreateNode(n.op, n.target, args, kwargs, name, n.typ)
}

// GraphCopy appends a copy of all of src's nodes except its output node to
// this graph, filling valMap with the src-to-copy correspondence. It returns
// the remapped output value and whether src had an output node at all; the
// caller decides if and where to re-emit the output (DeepCopy does).
func (g *Graph) GraphCopy(src *Graph, valMap map[*Node]*Node) (output Argument, hasOutput bool) {
	remap := func(used *Node) Argument {
		mapped, ok := valMap[used]
		if !ok {
			exceptions.Panicf("GraphCopy: %s escapes the copied region", used)
		}
		return NodeArg(mapped)
	}
	for n := range src.Nodes() {
		if _, done := valMap[n]; done {
			continue
		}
		if n.op == OpOutput {
			hasOutput = true
			if len(n.args) > 0 {
				output = n.args[0].transform(remap)
			}
			continue
		}
		valMap[n] = g.NodeCopy(n, remap)
	}
	return output, hasOutput
}

// DeepCopy returns an independent copy of the graph: same node order, names,
// targets and argument structure, no shared Nodes. The copy walks the node
// list iteratively, so argument chains of any depth cannot overflow the stack.
func (g *Graph) DeepCopy() *Graph {
	copied := New()
	valMap := make(map[*Node]*Node, g.length)
	output, hasOutput := copied.GraphCopy(g, valMap)
	if hasOutput {
		copied.Output(output)
	}
	return copied
}

// String implements fmt.Stringer: the human-readable one-node-per-line dump
// with user counts, for debugging and golden-string tests. Not a stable
// machine format.
func (g *Graph) String() string {
	var params []string
	returnAnnotation := ""
	for n := range g.Nodes() {
		switch n.op {
		case OpPlaceholder:
			param := n.target
			if n.typ != "" {
				param += " : " + n.typ
			}
			params = append(params, param)
		case OpOutput:
			if n.typ != "" {
				returnAnnotation = " -> " + n.typ
			}
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "graph(%s)%s:", strings.Join(params, ", "), returnAnnotation)
	for n := range g.Nodes() {
		if n.op == OpPlaceholder {
			continue
		}
		b.WriteString("\n    ")
		b.WriteString(n.formatNode())
	}
	return b.String()
}
