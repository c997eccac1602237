package main

import (
	"os"
	_ "time/tzdata"

	"github.com/rustyeddy/autotrader/cmd/autotrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
