package main

import (
	"os"

	"github.com/dshills/vibe/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
