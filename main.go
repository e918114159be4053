// Command janitor sweeps closed one-time codes and dead sessions outside the
// API process. Run with -once from an external scheduler, or without it to
// follow JANITOR_SCHEDULE.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/janitor"
	"github.com/ovaphlow/salon/service-core-go/internal/otp"
	otprepo "github.com/ovaphlow/salon/service-core-go/internal/otp/repo"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	sessionrepo "github.com/ovaphlow/salon/service-core-go/internal/session/repo"
	"github.com/ovaphlow/salon/service-core-go/pkg/database"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

func main() {
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting salon janitor")

	cfg, err := config.LoadJanitor()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// init db
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	otps := otp.NewManager(otprepo.NewOTPRepo(db), cfg.OTP, sugar)
	sessions := session.NewManager(nil, sessionrepo.NewSessionRepo(db), cfg.Env == "production", sugar)
	jan := janitor.New(sugar, janitor.StandardJobs(otps, sessions)...)

	if *once {
		if err := jan.RunOnce(context.Background()); err != nil {
			sugar.Fatalf("janitor pass failed: %v", err)
		}
		sugar.Info("janitor pass completed")
		return
	}

	if err := jan.Start(cfg.Schedule); err != nil {
		sugar.Fatalf("janitor: %v", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a running pass time to finish
	doneCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jan.Stop(doneCtx)

	sugar.Info("goodbye")
}
