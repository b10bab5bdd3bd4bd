// The main package for the debugflow executable.
package main

import "github.com/JakeFAU/debugflow/cmd"

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
