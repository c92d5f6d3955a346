package main

import (
	"gitlab.com/lmn-dev/lmn/cmd"
)

func main() {
	// Execute command-line interface; should be the last call in main()
	cmd.Execute()
}
