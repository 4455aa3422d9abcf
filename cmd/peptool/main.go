package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacksonlee411/crm-pep/internal/peptool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := peptool.NewRootCommand().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "peptool:", err)
		stop()
		os.Exit(1)
	}
}
