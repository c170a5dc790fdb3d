package main

import (
	"os"

	"github.com/ahrdadan/uicheck/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
