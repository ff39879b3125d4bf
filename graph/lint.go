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
	"github.com/pkg/errors"

	"github.com/symtrace/symtrace/types/sets"
)

// Lint error sentinels, check with errors.Is. Construction never raises
// these: validation is diagnostic and only runs when Lint is called.
var (
	// ErrGraphIllFormed marks structural violations: a node owned by another
	// graph, or an invalid op kind.
	ErrGraphIllFormed = errors.New("graph is ill-formed")

	// ErrDanglingReference marks an argument referencing a node that is not
	// defined earlier in this graph.
	ErrDanglingReference = errors.New("argument references an undefined node")

	// ErrDuplicateName marks two non-erased nodes sharing a name.
	ErrDuplicateName = errors.New("duplicate node name")

	// ErrUnresolvedTarget marks a get_attr/call_module target that does not
	// resolve in the supplied root namespace.
	ErrUnresolvedTarget = errors.New("target does not resolve in root namespace")
)

// Namespace is the attribute universe Lint resolves get_attr and call_module
// targets against, typically backed by the owning module hierarchy.
type Namespace interface {
	// HasAttr reports whether the dotted path resolves to an attribute.
	HasAttr(qualified string) bool
}

// Lint validates the graph without mutating it: node ownership, strict
// topological definition order of arguments, name uniqueness, op-kind
// validity, output placement, and, when root is non-nil, resolution of
// get_attr/call_module targets. It returns the first violation found,
// wrapping one of the sentinel errors above with the offending node.
//
// Any graph built solely through the public API passes the structural checks.
func (g *Graph) Lint(root Namespace) error {
	seenNames := sets.Make[string]()
	seenNodes := sets.Make[*Node]()
	var output *Node
	for n := range g.Nodes() {
		if !n.op.valid() {
			return errors.Wrapf(ErrGraphIllFormed, "node %s has op kind %d", n, int(n.op))
		}
		if output != nil {
			return errors.Wrapf(ErrGraphIllFormed, "node %s follows the output node %s", n, output)
		}
		if n.op == OpOutput {
			output = n
		}
		if n.graph != g {
			return errors.Wrapf(ErrGraphIllFormed, "node %s does not belong to this graph", n)
		}
		var argErr error
		checkArg := func(arg *Node) {
			if argErr != nil {
				return
			}
			if arg.graph != g {
				argErr = errors.Wrapf(ErrDanglingReference,
					"argument %s of node %s belongs to another graph; remap it with NodeCopy's argTransform", arg, n)
			} else if !seenNodes.Has(arg) {
				argErr = errors.Wrapf(ErrDanglingReference,
					"argument %s of node %s is used before definition; nodes must be topologically ordered", arg, n)
			}
		}
		for _, a := range n.args {
			a.walkNodes(checkArg)
		}
		for _, a := range n.kwargs {
			a.walkNodes(checkArg)
		}
		if argErr != nil {
			return argErr
		}
		seenNodes.Insert(n)

		if seenNames.Has(n.name) {
			return errors.Wrapf(ErrDuplicateName, "node %s redefines name %q", n, n.name)
		}
		seenNames.Insert(n.name)
	}

	if root == nil {
		return nil
	}
	for n := range g.Nodes() {
		if n.op != OpGetAttr && n.op != OpCallModule {
			continue
		}
		if !root.HasAttr(n.target) {
			return errors.Wrapf(ErrUnresolvedTarget,
				"node %s target %q references a nonexistent attribute", n, n.target)
		}
	}
	return nil
}
