// Command ankicli is a conversational Anki assistant with direct deck commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	if err := c.execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
