// Command fcgid-demo runs a minimal FastCGI responder: it answers every
// request with a plain-text summary of the request parameters and body,
// demonstrating the fastcgi/server packages end to end.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/gofcgi/fcgid/fastcgi"
	"github.com/gofcgi/fcgid/server"
	"github.com/gofcgi/fcgid/version"
)

func main() {
	app := &cli.Command{
		Name:    "fcgid-demo",
		Usage:   "Example FastCGI responder built on fastcgi/server",
		Version: version.Full(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Aliases: []string{"c"},
				Usage: "Path to a YAML server config file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (e.g. 127.0.0.1:9000), overrides the config file",
			},
			&cli.IntFlag{
				Name:  "acceptors",
				Usage: "Number of goroutines accepting on the shared listener, overrides the config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "zap log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("fcgid-demo: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := server.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		loaded, err := server.LoadConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listen := cmd.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	if n := cmd.Int("acceptors"); n > 0 {
		cfg.Acceptors = int(n)
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.LogLevel = level
	}

	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("fcgid-demo: invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("fcgid-demo: build logger: %w", err)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, fastcgi.HandlerFunc(summaryHandler), logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return srv.Serve(runCtx)
}

// summaryHandler writes back the request id, the REQUEST_METHOD and
// REQUEST_URI parameters, and the body: the simplest possible CGI-style
// echo responder.
func summaryHandler(ctx context.Context, req *fastcgi.Request, resp *fastcgi.Response) error {
	body, err := io.ReadAll(req)
	if err != nil {
		return err
	}

	if err := resp.SetHeader("Content-Type", "text/plain; charset=utf-8"); err != nil {
		return err
	}

	fmt.Fprintf(resp, "request id: %d\n", req.ID)
	method, _ := req.HeaderString("REQUEST_METHOD")
	uri, _ := req.HeaderString("REQUEST_URI")
	fmt.Fprintf(resp, "method: %s\nuri: %s\n", method, uri)
	fmt.Fprintf(resp, "body (%d bytes): %s\n", len(body), body)

	return resp.Flush()
}
