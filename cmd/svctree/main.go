// Command svctree runs and controls service trees built with the svctree
// package.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	svctree "github.com/axondata/go-svctree"
)

func main() {
	root := newRootCommand(defaultApps())
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "svctree: %v\n", err)
		if errors.Is(err, svctree.ErrNotRunning) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}
