package main

import (
	"fmt"
	"os"

	"github.com/campaign-lens/backend/cmd/analyze/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
