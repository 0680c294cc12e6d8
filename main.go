// The main package for the siteaudit executable.
package main

import (
	"github.com/JakeFAU/siteaudit-bridge/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
