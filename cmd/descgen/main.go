// descgen is the activity description enrichment service: an HTTP API for
// enqueuing and inspecting enrichment jobs, and a single-worker loop that
// processes them against a local SQLite queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
