// Command kass runs one parameterized query against many partitions at
// once and streams the rows as JSON lines.
package main

import (
	"os"

	"github.com/jerrypnz/kass/internal/cli"
)

func main() {
	os.Exit(cli.Execute(&cli.RootOptions{}, os.Args[1:], os.Stdout, os.Stderr))
}
