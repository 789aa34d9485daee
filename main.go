// The main package for the epaper-sync executable.
package main

import (
	"github.com/JakeFAU/zeit-on-tolino/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
