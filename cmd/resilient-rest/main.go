package main

import (
	"os"

	"github.com/opengovern/resilient-rest/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
