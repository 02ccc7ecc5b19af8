// axon-sql builds a confidence-scored relationship graph from MyBatis mapper
// files and extracted application facts.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/axon-sql/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
