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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/symtrace/symtrace/types/sets"
)

// OpKind is the closed set of operation kinds a Node may have.
type OpKind int8

const (
	// opRoot marks the sentinel anchoring a graph's node list. Never legal in
	// CreateNode and never produced by iteration.
	opRoot OpKind = iota

	// OpPlaceholder is a function input; its target is the parameter name.
	OpPlaceholder

	// OpGetAttr reads an attribute (by qualified dotted path) off the owning module.
	OpGetAttr

	// OpCallFunction calls a free function named by a qualified target.
	OpCallFunction

	// OpCallMethod calls a method of its first argument.
	OpCallMethod

	// OpCallModule calls a submodule of the owning module.
	OpCallModule

	// OpOutput is the graph's return statement; at most the last node.
	OpOutput
)

// String implements fmt.Stringer, using the conventional lowercase names.
func (op OpKind) String() string {
	switch op {
	case opRoot:
		return "root"
	case OpPlaceholder:
		return "placeholder"
	case OpGetAttr:
		return "get_attr"
	case OpCallFunction:
		return "call_function"
	case OpCallMethod:
		return "call_method"
	case OpCallModule:
		return "call_module"
	case OpOutput:
		return "output"
	}
	return fmt.Sprintf("OpKind(%d)", int(op))
}

func (op OpKind) valid() bool {
	return op >= OpPlaceholder && op <= OpOutput
}

type argKind int8

const (
	argNil argKind = iota
	argNode
	argInt
	argFloat
	argString
	argBool
	argTuple
	argList
	argDict
)

// Argument is one node argument: either a literal (None, int, float, string,
// bool), a reference to another Node, or a container (tuple, list,
// string-keyed dict) of Arguments. Build values with the XxxArg constructors;
// the zero value is the None literal.
type Argument struct {
	kind argKind
	node *Node
	i    int64
	f    float64
	s    string
	b    bool
	seq  []Argument
	dict map[string]Argument
}

// NilArg returns the None literal.
func NilArg() Argument { return Argument{} }

// NodeArg returns an argument referencing n.
func NodeArg(n *Node) Argument { return Argument{kind: argNode, node: n} }

// IntArg returns an integer literal argument.
func IntArg(v int64) Argument { return Argument{kind: argInt, i: v} }

// FloatArg returns a float literal argument.
func FloatArg(v float64) Argument { return Argument{kind: argFloat, f: v} }

// StrArg returns a string literal argument.
func StrArg(v string) Argument { return Argument{kind: argString, s: v} }

// BoolArg returns a boolean literal argument.
func BoolArg(v bool) Argument { return Argument{kind: argBool, b: v} }

// TupleArg returns a tuple of the given arguments.
func TupleArg(elems ...Argument) Argument { return Argument{kind: argTuple, seq: elems} }

// ListArg returns a list of the given arguments.
func ListArg(elems ...Argument) Argument { return Argument{kind: argList, seq: elems} }

// DictArg returns a string-keyed dict argument. Rendering sorts the keys.
func DictArg(entries map[string]Argument) Argument { return Argument{kind: argDict, dict: entries} }

// IsNode returns whether the argument references a Node.
func (a Argument) IsNode() bool { return a.kind == argNode }

// Node returns the referenced Node, or nil for non-node arguments.
func (a Argument) Node() *Node {
	if a.kind != argNode {
		return nil
	}
	return a.node
}

// walkNodes calls visit for every Node referenced by the argument, recursing
// into containers.
func (a Argument) walkNodes(visit func(*Node)) {
	switch a.kind {
	case argNode:
		visit(a.node)
	case argTuple, argList:
		for _, e := range a.seq {
			e.walkNodes(visit)
		}
	case argDict:
		for _, e := range a.dict {
			e.walkNodes(visit)
		}
	}
}

// transform returns the argument with every Node reference rewritten by fn,
// containers rebuilt as needed.
func (a Argument) transform(fn func(*Node) Argument) Argument {
	switch a.kind {
	case argNode:
		return fn(a.node)
	case argTuple, argList:
		elems := make([]Argument, len(a.seq))
		for i, e := range a.seq {
			elems[i] = e.transform(fn)
		}
		return Argument{kind: a.kind, seq: elems}
	case argDict:
		entries := make(map[string]Argument, len(a.dict))
		for k, e := range a.dict {
			entries[k] = e.transform(fn)
		}
		return Argument{kind: argDict, dict: entries}
	}
	return a
}

// format renders the argument as a Python expression. Node references render
// as their name, prefixed with '%' when percentNames is set (the graph-dump
// convention).
func (a Argument) format(percentNames bool) string {
	switch a.kind {
	case argNil:
		return "None"
	case argNode:
		if percentNames {
			return "%" + a.node.name
		}
		return a.node.name
	case argInt:
		return strconv.FormatInt(a.i, 10)
	case argFloat:
		return pythonFloat(a.f)
	case argString:
		return pythonString(a.s)
	case argBool:
		if a.b {
			return "True"
		}
		return "False"
	case argTuple:
		elems := make([]string, len(a.seq))
		for i, e := range a.seq {
			elems[i] = e.format(percentNames)
		}
		if len(elems) == 1 {
			return "(" + elems[0] + ",)"
		}
		return "(" + strings.Join(elems, ", ") + ")"
	case argList:
		elems := make([]string, len(a.seq))
		for i, e := range a.seq {
			elems[i] = e.format(percentNames)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	case argDict:
		keys := make([]string, 0, len(a.dict))
		for k := range a.dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]string, len(keys))
		for i, k := range keys {
			key := pythonString(k)
			if percentNames {
				key = k // dump convention: bare keys
			}
			entries[i] = key + ": " + a.dict[k].format(percentNames)
		}
		return "{" + strings.Join(entries, ", ") + "}"
	}
	exceptions.Panicf("invalid Argument kind %d", a.kind)
	return ""
}

// String implements fmt.Stringer, rendering the argument as a Python expression.
func (a Argument) String() string { return a.format(false) }

// pythonFloat renders f the way Python repr does: inf/nan spelled bare (hence
// the "from math import inf, nan" prelude in generated code), integral values
// with a trailing ".0".
func pythonFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// pythonString renders s as a single-quoted Python string literal.
func pythonString(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// Node is one operation in a Graph: an operation kind, a target, arguments
// (possibly referencing earlier Nodes), a name unique within its graph, and
// intrusive links into the graph's node list. Nodes are created through
// Graph.CreateNode and its sugar, never directly.
type Node struct {
	graph  *Graph
	op     OpKind
	name   string
	target string
	args   []Argument
	kwargs map[string]Argument
	typ    string

	prev, next *Node

	// users holds the nodes consuming this one as an argument. A node can
	// only be erased once this set is empty.
	users sets.Set[*Node]

	erased bool
}

// Op returns the node's operation kind.
func (n *Node) Op() OpKind { return n.op }

// Name returns the node's unique name within its graph.
func (n *Node) Name() string { return n.name }

// Target returns the node's target identifier. Its meaning depends on the op:
// parameter name for placeholders, qualified function name for call_function,
// method name for call_method, dotted attribute path for get_attr/call_module.
func (n *Node) Target() string { return n.target }

// Args returns the positional arguments. The slice is owned by the node and
// must not be mutated.
func (n *Node) Args() []Argument { return n.args }

// Kwargs returns the keyword arguments. The map is owned by the node and must
// not be mutated.
func (n *Node) Kwargs() map[string]Argument { return n.kwargs }

// Type returns the optional declared result type annotation, or "".
func (n *Node) Type() string { return n.typ }

// Graph returns the graph owning this node.
func (n *Node) Graph() *Graph { return n.graph }

// IsErased returns whether the node has been erased from its graph. Erased
// nodes keep their args for inspection but are skipped by iteration.
func (n *Node) IsErased() bool { return n.erased }

// NumUsers returns how many non-erased nodes consume this node as an argument.
func (n *Node) NumUsers() int { return n.users.Len() }

// Users returns the consuming nodes, sorted by name for determinism.
func (n *Node) Users() []*Node {
	users := make([]*Node, 0, n.users.Len())
	for u := range n.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].name < users[j].name })
	return users
}

// String implements fmt.Stringer with the graph-dump convention: "%name".
func (n *Node) String() string { return "%" + n.name }

// formatNode renders the node's one-line graph-dump form. Placeholders have
// no line of their own (they show up in the graph signature instead).
func (n *Node) formatNode() string {
	switch n.op {
	case OpOutput:
		result := "None"
		if len(n.args) > 0 {
			result = n.args[0].format(false)
		}
		return "return " + result
	case OpGetAttr:
		return fmt.Sprintf("%s : [#users=%d] = self.%s", n, n.users.Len(), n.target)
	}
	return fmt.Sprintf("%s : [#users=%d] = %s[target=%s](args = %s, kwargs = %s)",
		n, n.users.Len(), n.op, n.target,
		TupleArg(n.args...).format(true), DictArg(n.kwargs).format(true))
}
