package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/cmd/migrate"
	"github.com/echoheir/echoheir-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "echoheir",
		Usage: "Legacy preservation service for EchoHeir",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
