// The main package for the fedisync executable.
package main

import (
	"github.com/JakeFAU/fedisync/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
