package main

import (
	"os"

	"intent-trader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
