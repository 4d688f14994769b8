// Command watchctl drives a stockwatch server from the terminal.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var (
	serverFlag  = flag.String("server", envOr("STOCKWATCH_URL", "http://localhost:3001"), "stockwatch API base URL")
	apiKeyFlag  = flag.String("key", os.Getenv("STOCKWATCH_API_KEY"), "API key sent as a Bearer token")
	sessionFlag = flag.String("session", os.Getenv("STOCKWATCH_SESSION"), "dashboard session id (defaults to the last one opened)")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	for _, c := range commands {
		commander.Register(c, "dashboard")
	}
	commander.Register(&healthCmd{}, "server")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
