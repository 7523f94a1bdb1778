// Command dfbridge runs dataframe programs on several engines and checks
// that they agree.
package main

import (
	"os"

	"github.com/roach88/dfbridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
