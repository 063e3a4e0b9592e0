package main

import (
	"github.com/ajmerced/sherpa-cli/cmd"
)

// main is the entry point for the sherpa CLI.
func main() {
	cmd.Execute()
}
