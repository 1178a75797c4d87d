package main

import (
	"os"

	"github.com/leofalp/polychat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
