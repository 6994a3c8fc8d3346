// Command finsight-sandbox is the child process spawned by the API and worker to run
// generated analysis code. It reads one request on stdin and writes one
// result on stdout.
package main

import (
	"os"

	"finsight-backend/internal/sandbox"
)

func main() {
	os.Exit(sandbox.Serve(os.Stdin, os.Stdout))
}
