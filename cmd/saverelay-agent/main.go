// Command saverelay-agent runs a client worker: it registers against a
// SaveRelay server, heartbeats, polls for assigned operations and executes
// them through an external transfer command.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/saverelay/saverelay/agent"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "saverelay-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		serverURL    = flag.String("server", envOr("SAVERELAY_SERVER", "http://localhost:8080/api/v1"), "dispatch API base URL")
		userID       = flag.String("user", os.Getenv("SAVERELAY_USER"), "user id this worker serves")
		clientID     = flag.String("client", os.Getenv("SAVERELAY_CLIENT_ID"), "worker client id (default: random UUID)")
		pollInterval = flag.Duration("poll-interval", 5*time.Second, "how often to poll for work")
		command      = flag.String("command", os.Getenv("SAVERELAY_TRANSFER_COMMAND"), "transfer command to execute per operation")
	)
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("-user (or SAVERELAY_USER) is required")
	}
	if *command == "" {
		return fmt.Errorf("-command (or SAVERELAY_TRANSFER_COMMAND) is required")
	}

	parts := strings.Fields(*command)
	executor := &agent.CommandExecutor{Command: parts[0], Args: parts[1:]}

	client := agent.NewClient(*serverURL)
	a := agent.New(client, executor, agent.Config{
		UserID:       *userID,
		ClientID:     *clientID,
		PollInterval: *pollInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("saverelay-agent: worker %s polling %s every %s\n", a.ClientID(), *serverURL, *pollInterval)
	return a.Start(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
