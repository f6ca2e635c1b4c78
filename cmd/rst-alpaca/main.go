package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"rstalpaca/pkg/alpaca"
	"rstalpaca/pkg/drivers/rst"
	"rstalpaca/templates"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("RST Alpaca Server")

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := alpaca.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	mount, err := rst.NewDriver(0, db, tmpl, log.WithField("device", "rst"))
	if err != nil {
		return fmt.Errorf("failed to create RST driver: %v", err)
	}
	defer mount.Close()

	serverDesc := alpaca.ServerDescription{
		Name:                "RST Alpaca Server",
		Manufacturer:        "RST",
		ManufacturerVersion: "1.0",
		Location:            "Observatory",
	}

	devices := []alpaca.Device{
		mount,
	}
	server := alpaca.NewServer(serverDesc, devices, store, tmpl, log.StandardLogger())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: server.AddRoutes(),
	}

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen on %s: %v", srv.Addr, err)
			stop()
		}
	}()

	cfg, err := store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get server config: %v", err)
	}
	if c.Bool("discovery") && cfg.Discovery {
		dr := alpaca.NewDiscoveryResponder("0.0.0.0", c.Int("port"), log.WithField("component", "discovery"))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dr.Run(ctx); err != nil {
				log.Errorf("Discovery responder failed: %v", err)
			}
			log.Debug("Discovery responder stopped")
		}()
	}

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

func main() {
	app := cli.App{
		Name:  "RST Alpaca Server",
		Usage: "ASCOM Alpaca server for RST mounts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8090,
				EnvVars: []string{"ALPACA_PORT"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Configuration database file",
				Value:   "alpaca.db",
				EnvVars: []string{"ALPACA_DB"},
			},
			&cli.BoolFlag{
				Name:    "discovery",
				Usage:   "Answer Alpaca discovery requests",
				Value:   true,
				EnvVars: []string{"ALPACA_DISCOVERY"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
