// Command cortexctl is the CortexOS operator CLI: thin glue over the
// A2A Gateway's REST surface with no orchestration logic of its own
// (spec.md §1 treats CLIs as external collaborators).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
