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
	"strconv"
	"strings"
	"unicode"

	"github.com/symtrace/symtrace/types/sets"
)

// deriveName builds the default node name for an op/target pair, sanitized
// into a legal Python identifier. Explicit user names skip this (they are only
// de-duplicated, never rewritten).
func deriveName(op OpKind, target string) string {
	switch op {
	case OpCallFunction:
		// Qualified targets name the node after their last component, so
		// "torch.add" nodes are called "add".
		if i := strings.LastIndexByte(target, '.'); i >= 0 {
			target = target[i+1:]
		}
	case OpOutput:
		return "output"
	}
	return sanitizeName(target)
}

// sanitizeName rewrites target into a legal, conventional Python identifier:
// magic-method underscores trimmed, dots and illegal characters squashed to
// '_', CamelCase converted to snake_case (which also strips leading
// underscores), and a '_' prefix if a digit would lead.
func sanitizeName(target string) string {
	if isMagicName(target) {
		target = target[2 : len(target)-2]
	}
	target = strings.ReplaceAll(target, ".", "_")
	target = squashIllegalChars(target)
	target = snakeCase(target)
	if target == "" {
		return "_unnamed"
	}
	if target[0] >= '0' && target[0] <= '9' {
		target = "_" + target
	}
	return target
}

func isMagicName(s string) bool {
	return len(s) > 4 && strings.HasPrefix(s, "__") && strings.HasSuffix(s, "__")
}

// squashIllegalChars replaces every run of non-identifier characters with one '_'.
func squashIllegalChars(s string) string {
	var b strings.Builder
	inRun := false
	for _, r := range s {
		legal := r == '_' || unicode.IsDigit(r) || unicode.IsLetter(r)
		if legal {
			b.WriteRune(r)
			inRun = false
		} else if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

// snakeCase lowercases CamelCase with '_' separators and strips leading
// underscores.
func snakeCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

// stripNumericSuffix removes one trailing "_<digits>" suffix, so copied nodes
// reclaim their base name when it is free in the destination graph.
func stripNumericSuffix(name string) string {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return name
	}
	return name[:i]
}

// registerName claims a unique, non-reserved name derived from the requested
// one: the name itself when free, otherwise (or when it would shadow a Python
// builtin, keyword, or inf/nan) "name_N" with N counting up from 1 until a
// free candidate is found.
func (g *Graph) registerName(name string) string {
	if _, used := g.usedNames[name]; !used {
		g.usedNames[name] = 0
		if !reservedNames.Has(name) {
			return name
		}
	}
	for {
		count := g.usedNames[name] + 1
		g.usedNames[name] = count
		candidate := fmt.Sprintf("%s_%d", name, count)
		if _, taken := g.usedNames[candidate]; !taken && !reservedNames.Has(candidate) {
			g.usedNames[candidate] = 0
			return candidate
		}
	}
}

// reservedNames holds the identifiers node names must never shadow: Python
// keywords, builtins, and the bare inf/nan spellings generated code imports
// from math.
var reservedNames = sets.MakeWith(
	// Keywords.
	"False", "None", "True", "and", "as", "assert", "async", "await",
	"break", "class", "continue", "def", "del", "elif", "else", "except",
	"finally", "for", "from", "global", "if", "import", "in", "is",
	"lambda", "nonlocal", "not", "or", "pass", "raise", "return", "try",
	"while", "with", "yield",
	// Builtins.
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool",
	"breakpoint", "bytearray", "bytes", "callable", "chr", "classmethod",
	"compile", "complex", "copyright", "credits", "delattr", "dict", "dir",
	"divmod", "enumerate", "eval", "exec", "exit", "filter", "float",
	"format", "frozenset", "getattr", "globals", "hasattr", "hash", "help",
	"hex", "id", "input", "int", "isinstance", "issubclass", "iter", "len",
	"license", "list", "locals", "map", "max", "memoryview", "min", "next",
	"object", "oct", "open", "ord", "pow", "print", "property", "quit",
	"range", "repr", "reversed", "round", "set", "setattr", "slice",
	"sorted", "staticmethod", "str", "sum", "super", "tuple", "type",
	"vars", "zip",
	"ArithmeticError", "AssertionError", "AttributeError", "BaseException",
	"BaseExceptionGroup", "BlockingIOError", "BrokenPipeError",
	"BufferError", "BytesWarning", "ChildProcessError",
	"ConnectionAbortedError", "ConnectionError", "ConnectionRefusedError",
	"ConnectionResetError", "DeprecationWarning", "EOFError", "Ellipsis",
	"EncodingWarning", "EnvironmentError", "Exception", "ExceptionGroup",
	"FileExistsError", "FileNotFoundError", "FloatingPointError",
	"FutureWarning", "GeneratorExit", "IOError", "ImportError",
	"ImportWarning", "IndentationError", "IndexError", "InterruptedError",
	"IsADirectoryError", "KeyError", "KeyboardInterrupt", "LookupError",
	"MemoryError", "ModuleNotFoundError", "NameError", "NotADirectoryError",
	"NotImplemented", "NotImplementedError", "OSError", "OverflowError",
	"PendingDeprecationWarning", "PermissionError", "ProcessLookupError",
	"RecursionError", "ReferenceError", "ResourceWarning", "RuntimeError",
	"RuntimeWarning", "StopAsyncIteration", "StopIteration", "SyntaxError",
	"SyntaxWarning", "SystemError", "SystemExit", "TabError", "TimeoutError",
	"TypeError", "UnboundLocalError", "UnicodeDecodeError",
	"UnicodeEncodeError", "UnicodeError", "UnicodeTranslateError",
	"UnicodeWarning", "UserWarning", "ValueError", "Warning",
	"ZeroDivisionError",
	// Bare spellings imported from math by generated code.
	"inf", "nan",
)
