package main

import (
	"vsmp/cmd"
)

func main() {
	// Cobra handles its own error reporting and exit codes; if Execute
	// returns, the command (or a full tick) completed successfully.
	cmd.Execute()
}
