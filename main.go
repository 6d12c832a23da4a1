// The main package for the pncp-mirror executable.
package main

import (
	"github.com/licitabr/pncp-mirror/cmd"
)

func main() {
	cmd.Execute()
}
