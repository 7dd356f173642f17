// Command pairflow drives a bubble through its implementer/reviewer
// lifecycle from a terminal.
package main

import (
	"os"

	"github.com/felho/pairflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
