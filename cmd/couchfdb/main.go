package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := Cli(ctx, os.Args[1:], &CliConfig{
		Name:        "couchfdb",
		Description: "Inspect the CouchDB catalog stored in an ordered key-value store.",
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Exit:        os.Exit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "couchfdb: %v\n", err)
		os.Exit(1)
	}
}
