package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/salon/service-core-go/internal/audit"
	auditrepo "github.com/ovaphlow/salon/service-core-go/internal/audit/repo"
	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/janitor"
	"github.com/ovaphlow/salon/service-core-go/internal/mailer"
	"github.com/ovaphlow/salon/service-core-go/internal/otp"
	otprepo "github.com/ovaphlow/salon/service-core-go/internal/otp/repo"
	"github.com/ovaphlow/salon/service-core-go/internal/ratelimit"
	"github.com/ovaphlow/salon/service-core-go/internal/router"
	"github.com/ovaphlow/salon/service-core-go/internal/session"
	sessionrepo "github.com/ovaphlow/salon/service-core-go/internal/session/repo"
	"github.com/ovaphlow/salon/service-core-go/internal/setting"
	settingrepo "github.com/ovaphlow/salon/service-core-go/internal/setting/repo"
	"github.com/ovaphlow/salon/service-core-go/internal/user"
	userrepo "github.com/ovaphlow/salon/service-core-go/internal/user/repo"
	"github.com/ovaphlow/salon/service-core-go/pkg/database"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

type tableOwner interface {
	EnsureTable(ctx context.Context) error
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting salon service-core")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// init db
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	otps := otprepo.NewOTPRepo(db)
	sessions := sessionrepo.NewSessionRepo(db)
	audits := auditrepo.NewAuditRepo(db)
	settings := settingrepo.NewRepo(db)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	for _, t := range []tableOwner{users, otps, sessions, audits, settings} {
		if err := t.EnsureTable(initCtx); err != nil {
			sugar.Fatalf("ensure tables: %v", err)
		}
	}

	// redis is optional; without it the auth endpoints are not rate limited
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RedisURL != "" {
		rdb, err := ratelimit.Connect(initCtx, cfg.RateLimit.RedisURL)
		if err != nil {
			sugar.Fatalf("redis: %v", err)
		}
		defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
		limiter = ratelimit.New(rdb, cfg.RateLimit.PerMinute, time.Minute, sugar)
	} else {
		sugar.Warn("REDIS_URL not set, rate limiting disabled")
	}
	cancelInit()

	proxies, err := utilities.NewProxyResolver(cfg.TrustedProxies)
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	recorder := audit.NewRecorder(audits, sugar)
	otpManager := otp.NewManager(otps, cfg.OTP, sugar)
	signer := session.NewSigner(cfg.Access, cfg.Refresh, sugar)
	sessionManager := session.NewManager(signer, sessions, cfg.Production(), sugar)
	mail := mailer.New(cfg.SMTP, sugar)
	userService := user.NewUserService(users, user.BcryptHasher{Cost: user.DefaultCost}, otpManager, mail,
		sessionManager, recorder, cfg.Login, sugar)

	handler := router.RegisterRoutes(sugar, router.Deps{
		Users:    user.NewHandler(userService, sessionManager, sugar),
		Sessions: session.NewHandler(sessionManager, recorder, sugar),
		Audit:    audit.NewHandler(recorder, sugar),
		Settings: setting.NewHandler(setting.NewService(settings, recorder, sugar), sugar),
		Verifier: sessionManager,
		Limiter:  limiter,
		Proxies:  proxies,
		Ping:     db.PingContext,
	})

	jan := janitor.New(sugar, janitor.StandardJobs(otpManager, sessionManager)...)
	if err := jan.Start(cfg.JanitorSchedule); err != nil {
		sugar.Fatalf("janitor: %v", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "smtp", cfg.SMTP.Enabled())

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	jan.Stop(doneCtx)

	sugar.Info("goodbye")
}
