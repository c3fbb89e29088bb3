package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/labforge/internal/app"
	"github.com/michaelbrown/labforge/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the labforge HTTP server",
	Long: `Start the labforge HTTP server with REST API and WebSocket support.

API endpoints are under /api. Every lab endpoint except the listing expects
the learner's ID in the X-Submitter-ID header.

Examples:
  labforge serve
  labforge serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := app.Load(configFlag)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.NewRunner(true)
	if err != nil {
		return err
	}

	// Determine port
	port := a.Config.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(runner, a.Store, a.Logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
