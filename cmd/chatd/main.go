// Package main is the entry point for the chatd CLI.
package main

import (
	"os"

	"github.com/ashik1291/customer-live-chat-system/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
