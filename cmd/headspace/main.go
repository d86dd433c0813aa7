// headspace is the CLI for managing a fleet of AI coding-agent workers.
package main

import (
	"os"

	"github.com/samotage/claude-headspace-sub001/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
