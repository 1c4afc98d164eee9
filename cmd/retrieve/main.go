// Command retrieve ingests texts into an embedding store, answers top-K
// similarity queries over HTTP, and runs the concurrent document fetcher
// that feeds it.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/retrieve-go/cmd/retrieve/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
