// Command hoprsessiond runs the HOPR session transport core as a standalone
// node: the session manager, its Prometheus metrics endpoint, and a small
// CLI for configuration and smoke-testing.
package main

import (
	"fmt"
	"os"

	"github.com/hoprnet/hopr-session-go/cmd/hoprsessiond/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
