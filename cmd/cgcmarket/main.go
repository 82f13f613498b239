package main

import (
	"log"
	"os"

	"github.com/ohowland/cgc_market/cmd/cgcmarket/commands"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	commands.SetVersion(version)
	if err := commands.Execute(); err != nil {
		log.Println("[Main]", err)
		os.Exit(1)
	}
}
