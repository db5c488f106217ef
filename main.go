package main

import (
	"log"

	"ids-bench/cli"
)

func main() {
	app := cli.NewApp()
	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
