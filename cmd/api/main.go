package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	authrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/auth/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mailqueue"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	sugar := lg.Sugar()
	sugar.Infow("starting", "app", cfg.App.Name, "version", cfg.App.Version, "env", cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectX(cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	users := userrepo.NewUserRepo(db)
	if err := users.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	resets := authrepo.NewResetTokenRepo(db)
	if err := resets.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure reset tokens table: %w", err)
	}

	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()
	otps := otp.NewManager(cache.NewRedisCache(rdb))

	ids, err := utilities.NewIDGenerator(cfg.IDNode)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenSigner(cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	if err != nil {
		return err
	}

	deps := auth.Deps{
		Users:  users,
		Resets: resets,
		OTPs:   otps,
		Hasher: user.BcryptHasher{Cost: user.DefaultCost},
		Tokens: tokens,
		IDs:    ids,
		Log:    lg,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Queue.Enabled {
		q, err := newQueue(cfg, rdb, otps, lg)
		if err != nil {
			return err
		}
		deps.Mail = q
		g.Go(func() error { return q.Run(gctx) })
	} else {
		sugar.Warn("mail queue disabled; emails will be logged only")
	}

	handler := router.RegisterRoutes(sugar, router.Options{
		Auth:         auth.NewHandler(auth.NewService(deps), sugar),
		RateLimitRPM: cfg.HTTP.RateLimitRPM,
		Version:      cfg.App.Version,
	})
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
	}

	g.Go(func() error {
		sugar.Infow("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("shutting down")
		doneCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}
		return nil
	})

	err = g.Wait()
	sugar.Info("goodbye")
	return err
}

func newQueue(cfg config.Config, rdb redis.UniversalClient, otps *otp.Manager, lg *zap.Logger) (*mailqueue.Queue, error) {
	sender, err := mail.NewSMTPSender(cfg.Mail)
	if err != nil {
		return nil, err
	}
	mailer, err := mail.NewMailer(sender, cfg.App.Name, cfg.App.FrontendURL)
	if err != nil {
		return nil, err
	}

	var backend mailqueue.Backend
	switch cfg.Queue.Backend {
	case mailqueue.BackendRedis:
		backend = mailqueue.NewRedisBackend(rdb, cfg.Queue.Name)
	default:
		backend = mailqueue.NewMemoryBackend(cfg.Queue.Buffer)
	}

	proc := mailqueue.NewMailProcessor(mailer, otps, lg)
	return mailqueue.New(cfg.Queue, backend, proc, lg), nil
}
