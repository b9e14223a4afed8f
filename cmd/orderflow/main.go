// Command orderflow runs the order-processing workflow service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/petrijr/orderflow/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
