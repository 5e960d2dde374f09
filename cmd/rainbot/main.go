package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/bot"
	"github.com/rainbot/rainbot/internal/config"
	"github.com/rainbot/rainbot/internal/database"
	"github.com/rainbot/rainbot/internal/detection"
	"github.com/rainbot/rainbot/internal/health"
	"github.com/rainbot/rainbot/internal/logging"
	"github.com/rainbot/rainbot/internal/scheduler"
	"github.com/rainbot/rainbot/internal/store"
	"github.com/rainbot/rainbot/internal/store/mongostore"
)

const version = "v0.1.0"

func main() {
	app := &cli.App{
		Name:    "rainbot",
		Usage:   "Discord moderation bot",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file to load before reading the environment",
				Value:   ".env",
				EnvVars: []string{"RAINBOT_ENV_FILE"},
			},
		},
		Before: func(cctx *cli.Context) error {
			config.Load(cctx.String("env-file"))
			return nil
		},
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to Discord and start moderating",
				Action: runBot,
			},
			{
				Name:   "pending",
				Usage:  "list timed mutes and bans waiting to be lifted",
				Action: listPending,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// backend is the configured persistence plus the status tables.
type backend struct {
	store store.ConfigStore
	sink  health.Sink
	close func()
}

func openBackend(ctx context.Context) (*backend, error) {
	if config.DatabaseType == "mongo" {
		ms, err := mongostore.Open(ctx, config.MongoURI, config.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("opening mongo: %w", err)
		}
		return &backend{store: ms, sink: ms, close: func() {
			if err := ms.Close(context.Background()); err != nil {
				log.Printf("Error closing mongo: %v", err)
			}
		}}, nil
	}

	if err := database.Init(config.DatabaseType, config.GetDatabaseConnectionString()); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	repo := database.NewRepository()
	return &backend{store: repo, sink: repo, close: database.Close}, nil
}

func openWindows(logger *zap.SugaredLogger) (detection.WindowStore, func(), error) {
	if config.RedisURL != "" {
		rs, err := detection.NewRedisWindowStore(config.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Infof("Using redis for detection windows")
		return rs, func() { rs.Client.Close() }, nil
	}

	mem := detection.NewMemWindowStore()
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				mem.Sweep(now)
			case <-stop:
				return
			}
		}
	}()
	return mem, func() { close(stop) }, nil
}

func serveMetrics(logger *zap.SugaredLogger) *http.Server {
	if config.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	logger.Infof("Serving metrics on %s", config.MetricsAddr)
	return srv
}

func runBot(cctx *cli.Context) error {
	logger, err := logging.New(config.LogLevel, config.DevMode)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Infof("Welcome to rainbot, version: %s", version)
	if config.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}

	be, err := openBackend(cctx.Context)
	if err != nil {
		return err
	}
	defer be.close()

	windows, closeWindows, err := openWindows(logger)
	if err != nil {
		return err
	}
	defer closeWindows()

	cached := store.NewCachedStore(be.store, config.ConfigCacheSize, time.Duration(config.ConfigCacheTTLSeconds)*time.Second)

	metricsSrv := serveMetrics(logger)

	b, err := bot.New(cached, windows, be.sink, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}
	if err := b.Start(); err != nil {
		return fmt.Errorf("starting bot: %w", err)
	}

	// Wait for a SIGINT or SIGTERM signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	logger.Infof("Shutting down")
	b.Stop()
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(ctx)
	}
	return nil
}

func listPending(cctx *cli.Context) error {
	be, err := openBackend(cctx.Context)
	if err != nil {
		return err
	}
	defer be.close()

	configs, err := scheduler.LoadAll(cctx.Context, be.store, cctx.Args().Slice())
	var loadErr *scheduler.LoadError
	if errors.As(err, &loadErr) {
		for _, id := range loadErr.GuildIDs() {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", id, loadErr.Errs[id])
		}
	} else if err != nil {
		return err
	}
	pending := scheduler.PendingEntries(configs, time.Now())
	if len(pending) == 0 {
		fmt.Println("No pending punishments.")
		return nil
	}
	for _, p := range pending {
		fmt.Printf("%s\t%s\t%s\t#%d\t%s\t(in %s)\n",
			p.GuildID, p.SubjectID, p.Kind, p.CaseNumber,
			p.ExpiresAt.Format(time.RFC3339), p.Remaining.Round(time.Second))
	}
	return nil
}
