package main

import (
	"os"

	"github.com/vjohannesb/majordomo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
