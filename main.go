// The main package for the itchgrab executable.
package main

import (
	"github.com/itchgrab/itchgrab/cmd"
)

func main() {
	cmd.Execute()
}
