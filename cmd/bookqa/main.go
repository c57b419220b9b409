// Command bookqa indexes books from PDF files and answers questions about
// them, from the command line or over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/bookqa-go/cmd/bookqa/commands"
	"github.com/54b3r/bookqa-go/internal/bookerr"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		if bookerr.Known(err) {
			fmt.Fprintln(os.Stderr, bookerr.Message(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
