package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"aldar.app/internal/apiconfig"
	"aldar.app/internal/batchsync"
	"aldar.app/internal/cache"
	"aldar.app/internal/config"
	"aldar.app/internal/lms"
	"aldar.app/internal/obs"
	"aldar.app/internal/store/pg"
	"aldar.app/internal/usersync"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "aldar-sync",
		Short:   "Aldar SFTP CSV synchronizer",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (overrides ALDAR_CONFIG_FILE)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(usersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered SFTP directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range batchsync.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every file waiting in the upload directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, _ := cmd.Flags().GetStringSlice("dir")
			path, _ := cmd.Flags().GetString("config")
			for _, d := range dirs {
				if _, ok := batchsync.Lookup(d); !ok {
					return fmt.Errorf("unknown directory %q", d)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, path, dirs)
		},
	}
	cmd.Flags().StringSlice("dir", nil, "directory to process (repeatable, default all)")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		if err := os.Setenv("ALDAR_CONFIG_FILE", path); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if cfg.DB.DSN == "" {
		return cfg, fmt.Errorf("db.dsn is required")
	}
	return cfg, nil
}

// deps are shared by the batch and the enrollment jobs.
type deps struct {
	cfg   config.Config
	store *pg.Store
	kv    cache.Store
	base  *lms.Client
	http  *http.Client
	close []func() error
}

func (d *deps) Close() {
	for i := len(d.close) - 1; i >= 0; i-- {
		_ = d.close[i]()
	}
}

func openDeps(cfg config.Config) (*deps, error) {
	store, err := pg.Open(cfg.DB.DSN, pg.Pool{MaxOpenConns: 4, MaxIdleConns: 2})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	d := &deps{cfg: cfg, store: store, close: []func() error{store.Close}}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		d.close = append(d.close, rdb.Close)
		d.kv = cache.NewRedisStore(rdb)
	} else {
		obs.Logger().Warn().Msg("redis not configured, locks and tokens are process local")
		d.kv = cache.NewMemoryStore()
	}

	d.http = &http.Client{Timeout: cfg.LMS.Timeout}
	d.base = lms.New(lms.Endpoints{
		Enrollment: cfg.LMS.EnrollmentURL,
		Earn:       cfg.LMS.EarnURL,
		Refund:     cfg.LMS.RefundURL,
	}, nil, store,
		lms.WithHTTPClient(d.http),
		lms.WithErrorLog(store),
		lms.WithConfigs(apiconfig.NewCache(store, cfg.Company, cfg.Env, apiconfig.DefaultTTL)),
	)
	return d, nil
}

// lmsFor logs in to the LMS as the batch user named key and keeps its own token.
func (d *deps) lmsFor(key string) (*lms.Retrier, error) {
	cfg := d.cfg
	creds, ok := cfg.Batch.Users[key]
	if !ok {
		creds = config.Credentials{Username: cfg.LMS.Username, Password: cfg.LMS.Password}
	}
	if creds.Username == "" {
		return nil, fmt.Errorf("no LMS credentials for %s", key)
	}
	tokens := cache.NewTokenCache(d.kv,
		cache.NewPasswordFetcher(cfg.LMS.TokenURL, cfg.LMS.ClientID, cfg.LMS.ClientSecret, creds.Username, creds.Password, d.http),
		cache.TokenOptions{
			Env:      cfg.Env + "_" + key,
			Poll:     cfg.LMS.LockPoll,
			MaxWait:  cfg.LMS.LockMaxWait,
			Recorder: d.store,
		})
	return lms.NewRetrier(d.base.WithTokens(tokens), cfg.Batch.RetryAttempts, cfg.Batch.RetryDelay), nil
}

func run(ctx context.Context, configPath string, dirs []string) error {
	obs.Init()
	obs.InitBuildInfo("aldar-sync", Version, "")
	log := obs.Logger()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateBatch(); err != nil {
		return err
	}
	d, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	crypter, err := batchsync.LoadPGP(cfg.Batch.KeysDir, cfg.Batch.Passphrase)
	if err != nil {
		return err
	}

	remote, err := batchsync.DialSFTP(batchsync.SFTPConfig{
		Addr:           cfg.Batch.SFTPAddr,
		User:           cfg.Batch.SFTPUser,
		Password:       cfg.Batch.SFTPPassword,
		KeyFile:        cfg.Batch.SFTPKeyFile,
		KnownHostsFile: cfg.Batch.KnownHostsFile,
		Timeout:        cfg.Batch.SFTPTimeout,
	})
	if err != nil {
		return err
	}
	defer remote.Close()

	// Each directory logs in to the LMS with its own user.
	lmsFor := func(dir string) (batchsync.LMS, error) {
		r, err := d.lmsFor(dir)
		if err != nil {
			return nil, err
		}
		return r, nil
	}

	syncer := batchsync.New(d.store, remote, crypter, d.kv, lmsFor, batchsync.Options{
		Company:         cfg.Company,
		ChunkSize:       cfg.Batch.ChunkSize,
		Delay:           cfg.Batch.Delay,
		MaxRecords:      cfg.Batch.MaxRecords,
		RunLockTTL:      cfg.Batch.RunLockTTL,
		SuccessTemplate: cfg.Batch.SuccessTemplate,
		FailureTemplate: cfg.Batch.FailureTemplate,
	})

	log.Info().Strs("directories", dirs).Str("env", cfg.Env).Msg("sftp sync started")
	if err := syncer.RunAll(ctx, dirs); err != nil {
		return err
	}
	log.Info().Msg("sftp sync finished")
	return nil
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Enroll app users that have no LMS membership yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			chunk, _ := cmd.Flags().GetInt("chunk")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runUsers(ctx, path, chunk)
		},
	}
	cmd.Flags().Int("chunk", 15, "users enrolled per run")
	return cmd
}

func runUsers(ctx context.Context, configPath string, chunk int) error {
	obs.Init()
	obs.InitBuildInfo("aldar-sync", Version, "")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	d, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	enroller, err := d.lmsFor(usersync.CredentialsKey)
	if err != nil {
		return err
	}
	rep, err := usersync.New(d.store, enroller, usersync.Options{Chunk: chunk, Delay: cfg.Batch.Delay}).Run(ctx)
	obs.Logger().Info().Int("fetched", rep.Fetched).Int("enrolled", rep.Enrolled).Int("failed", rep.Failed).Msg("user sync finished")
	return err
}
