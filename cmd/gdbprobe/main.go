// Command gdbprobe runs debugger-driven scenarios against a daemon.
package main

import (
	"os"

	"github.com/roach88/gdbprobe/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
