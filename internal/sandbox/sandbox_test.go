package sandbox

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const childMarker = "__finsight_sandbox_child__"

// TestMain lets the test binary act as the sandbox executable.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[len(os.Args)-1] == childMarker {
		os.Exit(Serve(os.Stdin, os.Stdout))
	}
	os.Exit(m.Run())
}

const revenueCode = `package main

import "fmt"

func Analyze(input map[string]interface{}) (map[string]interface{}, error) {
	datasets := input["datasets"].([]interface{})
	ds := datasets[0].(map[string]interface{})
	rows := ds["data"].([]interface{})
	total := 0.0
	for _, r := range rows {
		row := r.(map[string]interface{})
		total += row["revenue"].(float64)
	}
	return map[string]interface{}{
		"visualizations": []interface{}{
			map[string]interface{}{"type": "bar", "title": "Revenue by month", "data": rows},
		},
		"insights": []interface{}{
			map[string]interface{}{"title": "Total revenue", "content": fmt.Sprintf("%.0f", total), "importance": 9},
		},
	}, nil
}
`

func revenueRequest(code string) Request {
	return Request{
		Code: code,
		Datasets: []DatasetInput{{
			ID:   "ds1",
			Name: "revenue",
			Data: []map[string]any{
				{"month": "Jan", "revenue": 10.0},
				{"month": "Feb", "revenue": 32.0},
			},
		}},
	}
}

func wrap(body string, imports ...string) string {
	var b strings.Builder
	b.WriteString("package main\n\n")
	for _, imp := range imports {
		b.WriteString("import \"" + imp + "\"\n")
	}
	b.WriteString("\nfunc Analyze(input map[string]interface{}) (map[string]interface{}, error) {\n")
	b.WriteString(body)
	b.WriteString("\n}\n")
	return b.String()
}

func processRunner(t *testing.T, limits Limits) *ProcessRunner {
	t.Helper()
	return &ProcessRunner{Binary: os.Args[0], Args: []string{childMarker}, Limits: limits}
}

func runners(t *testing.T) map[string]Runner {
	limits := Limits{Timeout: 10 * time.Second}
	return map[string]Runner{
		"inprocess": &InProcessRunner{Limits: limits},
		"process":   processRunner(t, limits),
	}
}

func TestRunProducesNormalizedResult(t *testing.T) {
	for name, r := range runners(t) {
		t.Run(name, func(t *testing.T) {
			res, err := r.Run(context.Background(), revenueRequest(revenueCode))
			require.NoError(t, err)
			require.Len(t, res.Visualizations, 1)
			assert.Equal(t, "bar", res.Visualizations[0].Type)
			require.Len(t, res.Insights, 1)
			assert.Equal(t, "42", res.Insights[0].Content)
			assert.Equal(t, 5, res.Insights[0].Importance)
		})
	}
}

func TestForbiddenImportsFail(t *testing.T) {
	for _, imp := range []string{"os", "net", "os/exec", "net/http", "syscall", "unsafe", "io/ioutil"} {
		code := wrap(`return nil, nil`, imp)
		for name, r := range runners(t) {
			_, err := r.Run(context.Background(), revenueRequest(code))
			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr, "%s via %s", imp, name)
			assert.Contains(t, execErr.Msg, "forbidden imports")
			assert.Equal(t, CodeExecutionError, ErrorCode(err))
		}
	}
}

func TestGoroutinesRejected(t *testing.T) {
	cases := map[string]string{
		"go statement": wrap(`go func() { panic("boom") }()
	for i := 0; i < 1000; i++ {
	}
	return map[string]interface{}{}, nil`),
		"nested go statement": wrap(`f := func() { go func() {}() }
	f()
	return map[string]interface{}{}, nil`),
		"after func": wrap(`time.AfterFunc(time.Millisecond, func() { panic("boom") })
	return map[string]interface{}{}, nil`, "time"),
	}
	for name, code := range cases {
		for runnerName, r := range runners(t) {
			t.Run(name+"/"+runnerName, func(t *testing.T) {
				_, err := r.Run(context.Background(), revenueRequest(code))
				var execErr *ExecutionError
				require.ErrorAs(t, err, &execErr)
				assert.Equal(t, CodeExecutionError, ErrorCode(err))
			})
		}
	}
	err := CheckSource(cases["go statement"])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "go statements are not allowed")
}

func TestCheckSource(t *testing.T) {
	assert.NoError(t, CheckSource(revenueCode))
	assert.Error(t, CheckSource(""))
	assert.Error(t, CheckSource("package analysis\n\nfunc Analyze() {}\n"))
	assert.Error(t, CheckSource("package main\n\nimport . \"strings\"\n"))
	assert.Error(t, CheckSource("this is not go"))
}

func TestExecutionErrors(t *testing.T) {
	cases := map[string]string{
		"returns error":   wrap(`return nil, errors.New("no revenue column")`, "errors"),
		"panics":          wrap(`var m map[string]interface{}; m["x"] = 1; return m, nil`),
		"compile error":   wrap(`return undefinedThing, nil`),
		"nil result":      wrap(`return nil, nil`),
		"bad shape":       wrap(`return map[string]interface{}{"visualizations": "nope"}, nil`),
		"missing title":   wrap(`return map[string]interface{}{"insights": []interface{}{map[string]interface{}{"content": "x"}}}, nil`),
		"print disabled":  wrap(`fmt.Println("hi"); return map[string]interface{}{}, nil`, "fmt"),
		"wrong signature": "package main\n\nfunc Analyze(x int) int { return x }\n",
	}
	for name, code := range cases {
		for runnerName, r := range runners(t) {
			t.Run(name+"/"+runnerName, func(t *testing.T) {
				_, err := r.Run(context.Background(), revenueRequest(code))
				var execErr *ExecutionError
				require.ErrorAs(t, err, &execErr)
			})
		}
	}
}

func TestEmptyResultIsValid(t *testing.T) {
	for name, r := range runners(t) {
		t.Run(name, func(t *testing.T) {
			res, err := r.Run(context.Background(), revenueRequest(wrap(`return map[string]interface{}{}, nil`)))
			require.NoError(t, err)
			assert.Empty(t, res.Visualizations)
			assert.Empty(t, res.Insights)
		})
	}
}

func TestInProcessTimeout(t *testing.T) {
	r := &InProcessRunner{Limits: Limits{Timeout: 100 * time.Millisecond}}
	code := wrap(`time.Sleep(3 * time.Second); return map[string]interface{}{}, nil`, "time")
	_, err := r.Run(context.Background(), revenueRequest(code))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeExecutionTimeout, ErrorCode(err))
}

func TestProcessTimeoutKillsChild(t *testing.T) {
	r := processRunner(t, Limits{Timeout: 500 * time.Millisecond, CPUSeconds: 30})
	code := wrap(`n := 0; for { n++ }`)
	start := time.Now()
	_, err := r.Run(context.Background(), revenueRequest(code))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessMemoryLimit(t *testing.T) {
	r := processRunner(t, Limits{Timeout: 20 * time.Second, MemoryMB: 64})
	code := wrap(`var keep [][]byte
	for {
		keep = append(keep, make([]byte, 1<<20))
		keep[len(keep)-1][0] = 1
	}`)
	_, err := r.Run(context.Background(), revenueRequest(code))
	assert.ErrorIs(t, err, ErrResourceExceeded)
	assert.Equal(t, CodeResourceExceeded, ErrorCode(err))
}

func TestOutputCap(t *testing.T) {
	code := wrap(`return map[string]interface{}{
		"insights": []interface{}{map[string]interface{}{"title": "big", "content": strings.Repeat("x", 64*1024)}},
	}, nil`, "strings")
	limits := Limits{Timeout: 10 * time.Second, MaxOutputBytes: 8 * 1024}
	for name, r := range map[string]Runner{
		"inprocess": &InProcessRunner{Limits: limits},
		"process":   processRunner(t, limits),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Run(context.Background(), revenueRequest(code))
			assert.ErrorIs(t, err, ErrResourceExceeded)
		})
	}
}

func TestCallerCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := processRunner(t, Limits{Timeout: 5 * time.Second})
	_, err := r.Run(ctx, revenueRequest(revenueCode))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, ErrorCode(err))
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, b.overflow)
	assert.Equal(t, "abcd", b.String())
}
