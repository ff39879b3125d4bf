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
	"slices"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/symtrace/symtrace/types/sets"
)

// operatorSugar maps operator-module function names to their expression
// spelling; call_function nodes targeting them render as operators instead of
// calls. %[1]s/%[2]s are the rendered arguments.
var operatorSugar = map[string]string{
	"add":      "%[1]s + %[2]s",
	"sub":      "%[1]s - %[2]s",
	"mul":      "%[1]s * %[2]s",
	"floordiv": "%[1]s // %[2]s",
	"truediv":  "%[1]s / %[2]s",
	"div":      "%[1]s / %[2]s",
	"mod":      "%[1]s %% %[2]s",
	"pow":      "%[1]s ** %[2]s",
	"lshift":   "%[1]s << %[2]s",
	"rshift":   "%[1]s >> %[2]s",
	"and":      "%[1]s & %[2]s",
	"or":       "%[1]s | %[2]s",
	"xor":      "%[1]s ^ %[2]s",
	"getitem":  "%[1]s[%[2]s]",
	"eq":       "%[1]s == %[2]s",
	"ne":       "%[1]s != %[2]s",
	"lt":       "%[1]s < %[2]s",
	"gt":       "%[1]s > %[2]s",
	"le":       "%[1]s <= %[2]s",
	"ge":       "%[1]s >= %[2]s",
	"pos":      "+%[1]s",
	"neg":      "-%[1]s",
	"invert":   "~%[1]s",
}

// operatorTarget splits a call_function target of the operator module
// ("operator.add", "_operator.getitem") into its sugar spelling.
func operatorTarget(target string) (spelling string, ok bool) {
	module, name, found := strings.Cut(target, ".")
	if !found || (module != "operator" && module != "_operator") {
		return "", false
	}
	spelling, ok = operatorSugar[name]
	return spelling, ok
}

func operatorArity(spelling string) int {
	if strings.Contains(spelling, "%[2]s") {
		return 2
	}
	return 1
}

// PythonCode renders the graph as Python source: an import block (inf/nan come
// from math so float literals always parse, plus one import per referenced
// top-level module), then a forward function with one single-assignment
// statement per node. rootModule names the receiver qualified targets resolve
// against, conventionally "self".
//
// The rendering has no side effects and is deterministic: calling it twice on
// an unchanged graph yields byte-identical strings.
func (g *Graph) PythonCode(rootModule string) string {
	var freeVars []string
	var body []string
	modulesUsed := sets.Make[string]()
	returnAnnotation := ""

	registerModuleUsed := func(qualified string) {
		if module, _, found := strings.Cut(qualified, "."); found {
			modulesUsed.Insert(module)
		}
	}

	for n := range g.Nodes() {
		switch n.op {
		case OpPlaceholder:
			param := n.target
			if n.typ != "" {
				param += " : " + n.typ
				registerModuleUsed(n.typ)
			}
			freeVars = append(freeVars, param)
			// A "*xs" target binds the name xs; surface an alias when the
			// node was renamed away from it.
			rawName := strings.ReplaceAll(n.target, "*", "")
			if rawName != n.name {
				body = append(body, fmt.Sprintf("%s = %s\n", n.name, rawName))
			}

		case OpCallMethod:
			body = append(body, fmt.Sprintf("%s = %s(%s)\n",
				n.name, formatTarget(n.args[0].String(), n.target), formatCallArgs(n.args[1:], n.kwargs)))

		case OpCallFunction:
			if spelling, ok := operatorTarget(n.target); ok && len(n.kwargs) == 0 && len(n.args) == operatorArity(spelling) {
				rendered := make([]any, len(n.args))
				for i, a := range n.args {
					rendered[i] = a.String()
				}
				body = append(body, fmt.Sprintf("%s = %s\n", n.name, fmt.Sprintf(spelling, rendered...)))
				continue
			}
			if n.target == "getattr" && len(n.args) == 2 && isIdentifierString(n.args[1]) {
				body = append(body, fmt.Sprintf("%s = %s\n",
					n.name, formatTarget(n.args[0].String(), n.args[1].s)))
				continue
			}
			registerModuleUsed(n.target)
			body = append(body, fmt.Sprintf("%s = %s(%s)\n",
				n.name, n.target, formatCallArgs(n.args, n.kwargs)))

		case OpCallModule:
			body = append(body, fmt.Sprintf("%s = %s(%s)\n",
				n.name, formatTarget(rootModule, n.target), formatCallArgs(n.args, n.kwargs)))

		case OpGetAttr:
			body = append(body, fmt.Sprintf("%s = %s\n", n.name, formatTarget(rootModule, n.target)))

		case OpOutput:
			if n.typ != "" {
				returnAnnotation = " -> " + n.typ
				registerModuleUsed(n.typ)
			}
			result := "None"
			if len(n.args) > 0 {
				result = n.args[0].String()
			}
			body = append(body, "return "+result)

		default:
			exceptions.Panicf("cannot generate code for %s node %s", n.op, n)
		}
	}

	imports := []string{"from math import inf, nan"}
	for _, module := range sets.Sorted(modulesUsed) {
		imports = append(imports, "import "+module)
	}

	code := strings.Join(body, "")
	if code == "" {
		code = "pass"
	}
	indented := "    " + strings.ReplaceAll(strings.TrimSuffix(code, "\n"), "\n", "\n    ") + "\n"

	signature := rootModule
	if len(freeVars) > 0 {
		signature += ", " + strings.Join(freeVars, ", ")
	}
	return fmt.Sprintf("%s\ndef forward(%s)%s:\n%s",
		strings.Join(imports, "\n"), signature, returnAnnotation, indented)
}

// formatTarget renders a dotted attribute path rooted at base, falling back to
// getattr() for path elements that are not identifiers (e.g. numeric
// submodule indices like "layers.0").
func formatTarget(base, target string) string {
	r := base
	for _, elem := range strings.Split(target, ".") {
		if isIdentifier(elem) {
			r = r + "." + elem
		} else {
			r = fmt.Sprintf("getattr(%s, %q)", r, elem)
		}
	}
	return r
}

// formatCallArgs renders positional then keyword arguments, keywords sorted
// for determinism.
func formatCallArgs(args []Argument, kwargs map[string]Argument) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, a := range args {
		parts = append(parts, a.String())
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s = %s", k, kwargs[k].String()))
	}
	return strings.Join(parts, ", ")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		digit := r >= '0' && r <= '9'
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !letter && (!digit || i == 0) {
			return false
		}
	}
	return true
}

func isIdentifierString(a Argument) bool {
	return a.kind == argString && isIdentifier(a.s)
}
