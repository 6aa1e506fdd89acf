// Command fetch runs one request through the configured provider chains and
// prints the result. It uses the same config file and environment as the
// server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
