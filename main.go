// The main package for the streetview-ingestor executable.
package main

import (
	"github.com/JakeFAU/streetview-ingestor/cmd"
)

func main() {
	cmd.Execute()
}
