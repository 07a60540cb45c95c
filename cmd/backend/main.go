// Command backend is the write-path action server of the meeting platform:
// it wires the model/action registries, a datastore.Client backend, the
// authentication adapter and permission checker into an HTTP front door.
package main

import (
	"os"

	"github.com/openslides/backend/cmd/backend/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
