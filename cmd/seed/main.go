package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// seedConfig is the subset of the service configuration the seeder reads.
type seedConfig struct {
	Database database.Config
	Log      utilities.Config
	IDNode   int64 `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

func main() {
	drop := flag.Bool("drop", false, "delete all users instead of seeding")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	_ = godotenv.Load()
	var cfg seedConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, *drop, lg); err != nil {
		lg.Error("seed failed", zap.Error(err))
		lg.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg seedConfig, drop bool, lg *zap.Logger) error {
	db, err := database.ConnectX(cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	repo := userrepo.NewUserRepo(db)
	if err := repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	ids, err := utilities.NewIDGenerator(cfg.IDNode)
	if err != nil {
		return err
	}

	s := user.NewSeeder(repo, user.BcryptHasher{Cost: user.DefaultCost}, ids.Next, lg.Named("seed"))
	if drop {
		_, err = s.Drop(ctx)
		return err
	}
	_, err = s.Seed(ctx)
	return err
}
