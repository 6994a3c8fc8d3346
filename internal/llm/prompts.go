package llm

import (
	"regexp"
	"strings"
)

// CodeSystemPrompt frames the code generation request.
const CodeSystemPrompt = `You are a financial data analyst who writes Go code.
Reply with exactly one fenced code block tagged go and nothing else.
The code must be a complete Go file in package main that defines:

    func Analyze(input map[string]interface{}) (map[string]interface{}, error)

Only these imports are available: errors, fmt, math, sort, strconv, strings, time, unicode.
Do not read files, environment variables or the network.`

// InsightsSystemPrompt frames the insight extraction request.
const InsightsSystemPrompt = `You are a financial analyst. Given an analysis request and the
visualizations computed for it, reply with a JSON array of insights.
Each insight is an object with "title" (string), "content" (string) and
"importance" (integer from 1 to 5, 5 being most important).
Reply with the JSON array only.`

var fencePattern = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// ExtractCode pulls the generated source out of a model reply. A block tagged
// go wins; otherwise the first fenced block; otherwise the whole reply when it
// already looks like a Go file.
func ExtractCode(reply string) (string, bool) {
	matches := fencePattern.FindAllStringSubmatch(reply, -1)
	for _, m := range matches {
		if strings.EqualFold(m[1], "go") || strings.EqualFold(m[1], "golang") {
			if code := strings.TrimSpace(m[2]); code != "" {
				return code, true
			}
		}
	}
	for _, m := range matches {
		if code := strings.TrimSpace(m[2]); code != "" {
			return code, true
		}
	}
	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "package ") {
		return trimmed, true
	}
	return "", false
}

// extractJSON trims an optional code fence around a JSON reply.
func extractJSON(reply string) string {
	if m := fencePattern.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[2])
	}
	trimmed := strings.TrimSpace(reply)
	if i := strings.IndexAny(trimmed, "[{"); i > 0 {
		trimmed = trimmed[i:]
	}
	return trimmed
}
