package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/policyhub/policyhub/internal/app/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := cli.NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
