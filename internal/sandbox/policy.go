package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
)

// allowedImports are the pure packages generated code may use.
var allowedImports = map[string]struct{}{
	"errors":  {},
	"fmt":     {},
	"math":    {},
	"sort":    {},
	"strconv": {},
	"strings": {},
	"time":    {},
	"unicode": {},
}

// allowedFmt limits fmt to string formatting; printing and scanning touch
// process stdio.
var allowedFmt = map[string]struct{}{
	"Errorf":   {},
	"Sprint":   {},
	"Sprintf":  {},
	"Sprintln": {},
	"Stringer": {},
}

// deniedSymbols are allowed-package members that start goroutines. A panic
// on an interpreter-spawned goroutine cannot be recovered by the runner.
var deniedSymbols = map[string]map[string]struct{}{
	"time": {"AfterFunc": {}},
}

// AllowedImports lists the importable packages in sorted order.
func AllowedImports() []string {
	out := make([]string, 0, len(allowedImports))
	for p := range allowedImports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CheckSource parses the file and rejects imports outside the allow-list
// and go statements before the interpreter sees it.
func CheckSource(code string) error {
	if strings.TrimSpace(code) == "" {
		return execErrorf("no code to execute")
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "analysis.go", code, parser.SkipObjectResolution)
	if err != nil {
		return execErrorf("parse: %v", err)
	}
	if file.Name.Name != "main" {
		return execErrorf("code must be in package main, got %q", file.Name.Name)
	}
	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return execErrorf("bad import %s", imp.Path.Value)
		}
		if imp.Name != nil && (imp.Name.Name == "." || imp.Name.Name == "_") {
			return execErrorf("import %q: dot and blank imports are not allowed", path)
		}
		if _, ok := allowedImports[path]; !ok {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return execErrorf("forbidden imports %v (allowed: %s)", forbidden, strings.Join(AllowedImports(), ", "))
	}
	var goStmt *ast.GoStmt
	ast.Inspect(file, func(n ast.Node) bool {
		if g, ok := n.(*ast.GoStmt); ok && goStmt == nil {
			goStmt = g
		}
		return goStmt == nil
	})
	if goStmt != nil {
		return execErrorf("line %d: go statements are not allowed", fset.Position(goStmt.Pos()).Line)
	}
	return nil
}
