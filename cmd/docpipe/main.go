// Command docpipe is the CLI entrypoint: ingest documents or run the API.
package main

import (
	"fmt"
	"os"

	"github.com/spherical/docpipe/cmd/docpipe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
