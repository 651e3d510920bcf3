package main

import (
	"os"

	"github.com/andersenlabs/brtrace/cmd/brtrace/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
