package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"matchsync/internal/cli"
)

func main() {
	// Optional .env next to the binary; env vars override config file values.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
