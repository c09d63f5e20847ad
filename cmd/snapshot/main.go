package main

import (
	"fmt"
	"os"

	"github.com/kapu/channel-snapshot/cmd/snapshot/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
