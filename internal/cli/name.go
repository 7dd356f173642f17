// Package cli wires cobra commands onto the protocol engine and the
// bubble lifecycle helpers, the way the teacher's internal/cmd wires
// cobra commands onto crew/rig/polecat.
package cli

import (
	"os"
	"sync"
)

var (
	name     string
	nameOnce sync.Once
)

// Name returns the CLI command name. Defaults to "pairflow", but can
// be overridden with PAIRFLOW_COMMAND so the binary can be installed
// under an alias without its own --help output going stale.
func Name() string {
	nameOnce.Do(func() {
		name = os.Getenv("PAIRFLOW_COMMAND")
		if name == "" {
			name = "pairflow"
		}
	})
	return name
}
