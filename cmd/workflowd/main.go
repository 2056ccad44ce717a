// Command workflowd serves the session publishing workflow API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/training_workflow/internal/app/runtime"
	"github.com/R3E-Network/training_workflow/internal/config"
	"github.com/R3E-Network/training_workflow/pkg/logger"
)

func main() {
	migrate := flag.String("migrate", "", "Apply database migrations and exit: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logging.Logger()).Named("workflowd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *migrate {
	case "":
	case "up", "down":
		if err := runtime.Migrate(ctx, cfg.Database, *migrate == "down"); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Infof("migrations %s complete", *migrate)
		return
	default:
		log.Fatalf("unknown -migrate value %q (want up or down)", *migrate)
	}

	rt, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build application")
	}

	runErr := rt.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Error("server stopped")
	}
	log.Info("shutting down")
	if err := rt.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
