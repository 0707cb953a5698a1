// The main package for the contrib-crawler executable.
package main

import (
	"github.com/JakeFAU/contrib-graph-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
