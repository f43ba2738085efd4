// Command api serves the studiodesk identity HTTP and gRPC APIs.
package main

import (
	"fmt"
	"os"

	"studiodesk.app/internal/obs"
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", obs.Version, obs.Commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
