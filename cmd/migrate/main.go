package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"aldar.app/internal/config"
	"aldar.app/internal/migrate"
	"aldar.app/internal/obs"
	"aldar.app/internal/store/pg"
	"aldar.app/ops/migrations"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error().Err(err).Msg("migrate failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dsn := flags.String("dsn", cfg.DB.DSN, "PostgreSQL DSN (default from ALDAR_PG_DSN)")
	timeout := flags.Duration("timeout", 5*time.Minute, "overall timeout")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [--dsn DSN] [up|down|seed|status]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("missing DSN: provide via --dsn or ALDAR_PG_DSN")
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return fmt.Errorf("missing command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.Pool{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrations.FS, "sql", "seeds")

	switch cmd := flags.Arg(0); cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", flags.Arg(0), err)
	}
	obs.Logger().Info().Str("command", flags.Arg(0)).Msg("migrate done")
	return nil
}
