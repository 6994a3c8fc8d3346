package sandbox

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing/fstest"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// AnalyzeFunc is the signature generated code must export.
type AnalyzeFunc = func(map[string]interface{}) (map[string]interface{}, error)

// symbols is the interpreter's view of the standard library, restricted to
// the allow-list.
var symbols = buildSymbols()

func buildSymbols() interp.Exports {
	out := interp.Exports{}
	for path := range allowedImports {
		key := path + "/" + path[strings.LastIndex(path, "/")+1:]
		src, ok := stdlib.Symbols[key]
		if !ok {
			continue
		}
		pkg := map[string]reflect.Value{}
		for name, v := range src {
			if _, denied := deniedSymbols[path][name]; denied {
				continue
			}
			if path == "fmt" {
				if _, ok := allowedFmt[name]; !ok {
					continue
				}
			}
			pkg[name] = v
		}
		out[key] = pkg
	}
	return out
}

// evaluate compiles code and calls its Analyze function. Panics raised by
// the interpreter or the interpreted code are returned as ExecutionError.
func evaluate(ctx context.Context, code string, input map[string]any) (out map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = execErrorf("panic: %v", rec)
		}
	}()

	i := interp.New(interp.Options{
		GoPath:               "/nonexistent",
		Env:                  []string{},
		Stdin:                strings.NewReader(""),
		Stdout:               io.Discard,
		Stderr:               io.Discard,
		SourcecodeFilesystem: fstest.MapFS{},
	})
	if err := i.Use(symbols); err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, code); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, execErrorf("compile: %v", err)
	}
	v, err := i.EvalWithContext(ctx, "main.Analyze")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, execErrorf("Analyze function not found: %v", err)
	}
	analyze, ok := v.Interface().(AnalyzeFunc)
	if !ok {
		return nil, execErrorf("Analyze has signature %s, want func(map[string]interface{}) (map[string]interface{}, error)", v.Type())
	}
	result, err := analyze(input)
	if err != nil {
		return nil, execErrorf("Analyze returned error: %v", err)
	}
	if result == nil {
		return nil, execErrorf("Analyze returned a nil result")
	}
	return result, nil
}
