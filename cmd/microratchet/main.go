package main

import (
	"os"

	"microratchet/cmd/microratchet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
