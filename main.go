package main

import (
	"fmt"
	"os"

	"terralink/internal/app"
)

func main() {
	args := os.Args[1:]
	run := app.Run
	if len(args) > 0 {
		switch args[0] {
		case "keygen":
			run, args = app.RunKeygen, args[1:]
		case "relay":
			run, args = app.RunRelay, args[1:]
		}
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "terralink: %v\n", err)
		os.Exit(1)
	}
}
