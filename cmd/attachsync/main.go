package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhle/attachsync/internal/cli"
	"github.com/nhle/attachsync/internal/theme"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, theme.ErrorStyle.Render("error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}
