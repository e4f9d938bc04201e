package main

import (
	"os"

	"github.com/mirrorops/pkgmirror/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
