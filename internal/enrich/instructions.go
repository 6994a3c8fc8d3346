package enrich

const instructions = `## Instructions
Write a complete Go file in package main that defines:

    func Analyze(input map[string]interface{}) (map[string]interface{}, error)

input["datasets"] is a []interface{} of objects with keys "id", "name" and
"data". "data" is a []interface{} of rows; each row is a
map[string]interface{} keyed by column name. Numbers are float64, empty
cells are nil. input["options"] carries the request settings.

Return a map with two keys:
- "visualizations": a []interface{} of objects with "type" (e.g. "bar",
  "line", "pie", "table"), "title", "data" and an optional "config" object.
- "insights": a []interface{} of objects with "title", "content" and
  "importance" (1 to 5).

Only errors, fmt, math, sort, strconv, strings, time and unicode may be
imported. Do not start goroutines (no go statements or time.AfterFunc).
Do not access files, environment variables or the network.
Handle missing or non-numeric values without panicking.
`
